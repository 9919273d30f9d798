package controller

import (
	"net/http"

	"go.uber.org/zap"
)

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for _, dep := range c.App.Dependencies {
		if err := dep.Ping(ctx); err != nil {
			c.App.Logger.Warn("Health check failed", zap.String("dependency", dep.Name), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "errored", "error": dep.Name + " connection error"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
