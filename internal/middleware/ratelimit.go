package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"investpay/pkg/cache"
	"investpay/pkg/logger"
)

// RateLimiter applies a fixed-window rate limit backed by the shared cache.
type RateLimiter struct {
	cache  cache.Store
	limit  int
	window time.Duration
	logger logger.Logger
}

func NewRateLimiter(store cache.Store, limit int, window time.Duration, log logger.Logger) *RateLimiter {
	return &RateLimiter{
		cache:  store,
		limit:  limit,
		window: window,
		logger: log,
	}
}

// Limit keys the window by client IP and, once authenticated, by account.
// Cache failures let the request through.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}

		key := "ratelimit:" + ip
		if userID, ok := UserIDFromContext(r.Context()); ok {
			key += ":" + userID.String()
		}

		count, err := rl.cache.Increment(r.Context(), key, rl.window)
		if err != nil {
			rl.logger.Warn("Rate limiter unavailable", map[string]interface{}{"error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		if count > int64(rl.limit) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(rl.limit)-count, 10))

		next.ServeHTTP(w, r)
	})
}
