package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/authd/internal/apperrors"
	"github.com/nkiryanov/authd/internal/handlers/render"
	"github.com/nkiryanov/authd/internal/handlers/userctx"
)

type requestValidator interface {
	ValidateRequest(ctx context.Context, access string) (uuid.UUID, error)
}

// AuthMiddleware resolves the bearer token through the validator and puts
// the user id on the request context. A store outage is surfaced as 503,
// never as an auth decision
func AuthMiddleware(v requestValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := bearerToken(r)
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := v.ValidateRequest(r.Context(), access)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrStoreUnavailable):
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
				return
			default:
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
