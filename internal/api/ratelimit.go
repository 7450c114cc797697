package api

import (
	"net"
	"net/http"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	ratestore "github.com/yasserelgammal/rate-limiter/store"
)

// newLimiter returns a per-client token bucket, or nil when perMinute is not
// positive.
func newLimiter(perMinute, burst int) *limiter.TokenBucket {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	tb, err := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     int64(perMinute),
			Duration: time.Minute,
			Burst:    int64(burst),
		},
		ratestore.NewMemoryStore(time.Minute),
	)
	if err != nil {
		return nil
	}
	return tb
}

// RateLimit rejects model calls from a client that exceeded its budget.
func RateLimit(tb *limiter.TokenBucket) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tb == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tb.Allow(clientKey(r)) {
				w.Header().Set("Retry-After", "60")
				httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many generation requests, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
