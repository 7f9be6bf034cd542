package tokenmanager

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authd/internal/apperrors"
)

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	newManager := func(t *testing.T, cfg Config) *TokenManager {
		if cfg.SecretKey == "" {
			cfg.SecretKey = "test-secret-key"
		}
		m, err := New(cfg)
		require.NoError(t, err, "token manager should be created without errors")
		return m
	}

	t.Run("fails without secret key", func(t *testing.T) {
		_, err := New(Config{})
		require.Error(t, err)
	})

	t.Run("issue and parse roundtrip", func(t *testing.T) {
		m := newManager(t, Config{})
		userID := uuid.New()

		token, err := m.Issue(userID, 3)
		require.NoError(t, err)
		require.NotEmpty(t, token.Value)
		require.WithinDuration(t, time.Now().Add(defaultAccessTokenTTL), token.ExpiresAt, time.Minute)

		gotUserID, gotVersion, err := m.Parse(token.Value)
		require.NoError(t, err)
		require.Equal(t, userID, gotUserID)
		require.Equal(t, int64(3), gotVersion)
	})

	t.Run("expired token", func(t *testing.T) {
		m := newManager(t, Config{AccessTTL: -time.Minute})

		token, err := m.Issue(uuid.New(), 1)
		require.NoError(t, err)

		_, _, err = m.Parse(token.Value)
		require.Error(t, err)
		require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		require.NotErrorIs(t, err, apperrors.ErrTokenMalformed, "expired must be distinguishable from malformed")
	})

	t.Run("malformed token", func(t *testing.T) {
		m := newManager(t, Config{})

		tests := []struct {
			name  string
			token string
		}{
			{name: "garbage", token: "not-a-jwt-at-all"},
			{name: "empty", token: ""},
			{name: "truncated", token: "eyJhbGciOiJIUzI1NiJ9.e30"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, _, err := m.Parse(tt.token)
				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
			})
		}
	})

	t.Run("wrong signing key", func(t *testing.T) {
		m := newManager(t, Config{SecretKey: "one-key"})
		other := newManager(t, Config{SecretKey: "other-key"})

		token, err := m.Issue(uuid.New(), 1)
		require.NoError(t, err)

		_, _, err = other.Parse(token.Value)
		require.Error(t, err)
		require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
	})
}
