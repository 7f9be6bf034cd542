package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authd/internal/apperrors"
	"github.com/nkiryanov/authd/internal/handlers/userctx"
)

type validatorStub struct {
	userID uuid.UUID
	err    error
	got    string
}

func (v *validatorStub) ValidateRequest(_ context.Context, access string) (uuid.UUID, error) {
	v.got = access
	return v.userID, v.err
}

func Test_AuthMiddleware(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	// Echoes whether the user id landed on the context
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := userctx.FromContext(r.Context())
		require.True(t, ok, "user id must be set for the wrapped handler")
		require.Equal(t, userID, got)
		w.WriteHeader(http.StatusOK)
	})

	do := func(t *testing.T, v *validatorStub, authHeader string) *httptest.ResponseRecorder {
		t.Helper()

		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}

		rec := httptest.NewRecorder()
		AuthMiddleware(v)(next).ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid bearer token passes", func(t *testing.T) {
		v := &validatorStub{userID: userID}

		rec := do(t, v, "Bearer some-access-token")

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "some-access-token", v.got, "token must reach the validator unchanged")
	})

	t.Run("scheme is case insensitive", func(t *testing.T) {
		v := &validatorStub{userID: userID}

		rec := do(t, v, "bearer some-access-token")

		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing or malformed header", func(t *testing.T) {
		tests := []struct {
			name   string
			header string
		}{
			{name: "no header", header: ""},
			{name: "wrong scheme", header: "Basic dXNlcjpwd2Q="},
			{name: "no token", header: "Bearer "},
			{name: "bare token", header: "some-access-token"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				v := &validatorStub{userID: userID}

				rec := do(t, v, tt.header)

				require.Equal(t, http.StatusUnauthorized, rec.Code)
				require.Empty(t, v.got, "validator must not be called")
			})
		}
	})

	t.Run("rejected token", func(t *testing.T) {
		for _, err := range []error{
			apperrors.ErrTokenExpired,
			apperrors.ErrTokenMalformed,
			apperrors.ErrTokenVersionStale,
			apperrors.ErrInvalidCredentials,
		} {
			v := &validatorStub{err: err}

			rec := do(t, v, "Bearer some-access-token")

			require.Equal(t, http.StatusUnauthorized, rec.Code, "error %v must map to 401", err)
		}
	})

	t.Run("store outage is not an auth decision", func(t *testing.T) {
		v := &validatorStub{err: apperrors.ErrStoreUnavailable}

		rec := do(t, v, "Bearer some-access-token")

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
