package controller

import (
	"net/http"

	"github.com/canopy-network/perpindexer/app/query/types"
	"github.com/canopy-network/perpindexer/pkg/metrics"
	"github.com/gorilla/mux"
)

const vaultPrefix = "/v4/vault"

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// WithCORS allows browser clients from any origin; the API is read-only.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v := r.PathPrefix(vaultPrefix).Subrouter()
	for _, rt := range c.vaultRoutes() {
		h := http.Handler(rt.handler)
		if c.App.Limiter != nil {
			h = c.App.Limiter.Middleware(c.rejectRateLimited)(h)
		}
		h = c.withSchema(rt.schema, h)
		v.Handle(rt.path, h).Methods(http.MethodGet).Name(rt.name)
	}

	return r, nil
}

type route struct {
	name    string
	path    string
	schema  querySchema
	handler http.HandlerFunc
}

// vaultRoutes is the route table of the vault API.
func (c *Controller) vaultRoutes() []route {
	return []route{
		{
			name:    "megavaultHistoricalPnl",
			path:    "/v1/megavault/historicalPnl",
			schema:  querySchema{resolutionParam},
			handler: c.HandleMegavaultHistoricalPnl,
		},
		{
			name:    "vaultsHistoricalPnl",
			path:    "/v1/vaults/historicalPnl",
			schema:  querySchema{resolutionParam},
			handler: c.HandleVaultsHistoricalPnl,
		},
		{
			name:    "megavaultPositions",
			path:    "/v1/megavault/positions",
			handler: c.HandleMegavaultPositions,
		},
	}
}
