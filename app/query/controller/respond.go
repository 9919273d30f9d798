package controller

import (
	"net/http"

	"github.com/canopy-network/perpindexer/pkg/errdefs"
	"github.com/canopy-network/perpindexer/pkg/metrics"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

type errorResponse struct {
	Errors []validationError `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Errors: []validationError{{Msg: msg}}})
}

func (c *Controller) rejectRateLimited(w http.ResponseWriter, _ *http.Request) {
	metrics.RateLimitedTotal.Inc()
	writeError(w, http.StatusTooManyRequests, "Too many requests")
}

// writeServiceError logs by error kind and answers 500. Details stay in the logs.
func (c *Controller) writeServiceError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	kind := errdefs.Classify(err)
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("path", r.URL.Path),
		zap.String("kind", kind.String()),
		zap.Error(err),
	}
	switch kind {
	case errdefs.KindUpstreamUnavailable:
		c.App.Logger.Warn("Upstream unavailable", fields...)
	default:
		c.App.Logger.Error("Request failed", fields...)
	}
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}
