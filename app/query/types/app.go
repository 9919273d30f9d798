package types

import (
	"context"
	"net/http"
	"time"

	"github.com/canopy-network/perpindexer/pkg/db/models/indexer"
	"github.com/canopy-network/perpindexer/pkg/ratelimit"
	"github.com/canopy-network/perpindexer/pkg/vault"
	"go.uber.org/zap"
)

// VaultService is the read side the vault routes call.
type VaultService interface {
	MegavaultHistoricalPnl(ctx context.Context, resolution indexer.PnlTickResolution) (vault.MegavaultHistoricalPnlResponse, error)
	VaultsHistoricalPnl(ctx context.Context, resolution indexer.PnlTickResolution) (vault.VaultsHistoricalPnlResponse, error)
	MegavaultPositions(ctx context.Context) (vault.MegavaultPositionResponse, error)
}

// Dependency is a backing service checked by /health.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

type App struct {
	Vaults       VaultService
	Dependencies []Dependency
	Limiter      *ratelimit.Limiter
	// Closers run in order on shutdown, after the server stops.
	Closers []func() error
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

const limiterIdle = 10 * time.Minute

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-sweep.C:
			if a.Limiter != nil {
				if n := a.Limiter.Sweep(limiterIdle); n > 0 {
					a.Logger.Debug("Dropped idle rate limiters", zap.Int("count", n))
				}
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)
	for _, closeFn := range a.Closers {
		if err := closeFn(); err != nil {
			a.Logger.Error("Failed to close connection", zap.Error(err))
		}
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
