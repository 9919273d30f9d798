// Package metrics provides Prometheus instrumentation for the query and ingestor services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpindexer_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perpindexer_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "route"})

	// RateLimitedTotal counts requests rejected by the per-client rate limiter.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perpindexer_http_rate_limited_total",
		Help: "Requests rejected with 429",
	})

	// IngestMessagesTotal counts applied stream messages by type and outcome.
	IngestMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpindexer_ingest_messages_total",
		Help: "Stream messages processed by the ingestor",
	}, []string{"type", "outcome"})

	// MarketRefreshTotal counts perpetual market refreshes by outcome.
	MarketRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpindexer_market_refresh_total",
		Help: "Perpetual market cache refreshes",
	}, []string{"outcome"})

	// PerpetualMarkets is the number of markets held by the in-memory cache.
	PerpetualMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perpindexer_perpetual_markets",
		Help: "Perpetual markets in the in-memory cache",
	})
)

const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeDuplicate = "duplicate"
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled by the matched route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := routeTemplate(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// routeTemplate avoids one label per raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
