// Package userctx identifies the caller of a request. It has no
// dependency on the handlers or the middleware, both import it.
package userctx

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const userIDKey ctxKey = iota

// Create a new context with the authenticated user id
func New(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Extract the user id from the context
func FromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

// ClientIP extracts the caller address, preferring the first hop of
// X-Forwarded-For when present
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip, _, _ := strings.Cut(forwarded, ",")
		if ip = strings.TrimSpace(ip); ip != "" {
			return ip
		}
	}

	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
