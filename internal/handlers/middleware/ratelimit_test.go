package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type limiterStub struct {
	allowed bool
	err     error
	key     string
}

func (l *limiterStub) Allow(_ context.Context, key string) (bool, error) {
	l.key = key
	return l.allowed, l.err
}

func Test_RateLimitMiddleware(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	do := func(t *testing.T, l *limiterStub) *httptest.ResponseRecorder {
		t.Helper()

		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:54321"

		rec := httptest.NewRecorder()
		RateLimitMiddleware(l)(next).ServeHTTP(rec, req)
		return rec
	}

	t.Run("allowed request passes", func(t *testing.T) {
		l := &limiterStub{allowed: true}

		rec := do(t, l)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "10.0.0.1", l.key, "client IP is the bucket key")
	})

	t.Run("denied request gets 429", func(t *testing.T) {
		l := &limiterStub{allowed: false}

		rec := do(t, l)

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("fail-closed store outage gets 503", func(t *testing.T) {
		l := &limiterStub{err: errors.New("store down")}

		rec := do(t, l)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
