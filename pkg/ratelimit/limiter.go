// Package ratelimit implements a per-client token bucket for the HTTP read API.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/canopy-network/perpindexer/pkg/utils"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

const (
	DefaultRPS   = 10
	DefaultBurst = 20
)

// Limiter hands every client key its own token bucket.
type Limiter struct {
	rps      rate.Limit
	burst    int
	limiters *xsync.Map[string, *rate.Limiter]
	lastSeen *xsync.Map[string, time.Time]
	now      func() time.Time
}

func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = DefaultRPS
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: xsync.NewMap[string, *rate.Limiter](),
		lastSeen: xsync.NewMap[string, time.Time](),
		now:      time.Now,
	}
}

// NewFromEnv reads RATE_LIMIT_RPS and RATE_LIMIT_BURST.
func NewFromEnv() *Limiter {
	return New(float64(utils.EnvInt("RATE_LIMIT_RPS", DefaultRPS)), utils.EnvInt("RATE_LIMIT_BURST", DefaultBurst))
}

// Allow spends one token from key's bucket.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	lim, ok := l.limiters.Load(key)
	if !ok {
		lim, _ = l.limiters.LoadOrStore(key, rate.NewLimiter(l.rps, l.burst))
	}
	l.lastSeen.Store(key, now)
	return lim.AllowN(now, 1)
}

// Sweep forgets clients idle for longer than idle and returns how many were dropped.
func (l *Limiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	dropped := 0
	l.lastSeen.Range(func(key string, seen time.Time) bool {
		if seen.Before(cutoff) {
			l.lastSeen.Delete(key)
			l.limiters.Delete(key)
			dropped++
		}
		return true
	})
	return dropped
}

// Len is the number of tracked clients.
func (l *Limiter) Len() int {
	return l.limiters.Size()
}

// ClientKey identifies the caller by the first X-Forwarded-For hop, else the remote host.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware calls reject when the client is over its limit.
func (l *Limiter) Middleware(reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(ClientKey(r)) {
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
