package ratelimit

import (
	"log/slog"
	"net/http"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// limiting for that request.
type KeyFunc func(r *http.Request) string

// Middleware wraps next so requests over the limit get deny instead.
// Limiter errors are logged and the request proceeds.
func Middleware(limiter Limiter, keyFunc KeyFunc, deny http.HandlerFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if limiter == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("ratelimit: limiter error, allowing request", "key", key, "error", err)
				ok = true
			}
			if !ok {
				w.Header().Set("Retry-After", "1")
				deny(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
