package api

import (
	"net"
	"net/http"
	"time"

	"fortune-wheel/internal/cache"
)

// RateLimit caps requests per client address within the window. Counters
// live in Redis so the limit holds across instances; when Redis is down
// the limiter fails open.
func RateLimit(c *cache.Cache, limit int64, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			count := c.IncrRequestCount(r.Context(), host, window)
			if count > limit {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
