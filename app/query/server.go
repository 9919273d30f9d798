package query

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/perpindexer/app/query/controller"
	"github.com/canopy-network/perpindexer/app/query/types"
	"github.com/canopy-network/perpindexer/pkg/utils"
)

// NewServer builds the router and the http.Server for app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3002")

	app.Server = &http.Server{
		Addr:              addr,
		Handler:           controller.WithCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      utils.EnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
	}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
