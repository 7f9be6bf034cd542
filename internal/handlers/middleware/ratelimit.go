package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/authd/internal/handlers/render"
	"github.com/nkiryanov/authd/internal/handlers/userctx"
)

type limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimitMiddleware guards authentication-sensitive endpoints with a
// per-client-IP bucket. The limiter itself decides what happens when its
// store is down; an error here means the configured policy is fail-closed
func RateLimitMiddleware(l limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := l.Allow(r.Context(), userctx.ClientIP(r))
			switch {
			case err != nil:
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
				return
			case !allowed:
				render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
