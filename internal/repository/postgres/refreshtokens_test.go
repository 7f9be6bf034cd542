package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authd/internal/apperrors"
	"github.com/nkiryanov/authd/internal/models"
	"github.com/nkiryanov/authd/internal/testutil"
)

// Tokens reference their owner, so every subtest creates a user first
func mustCreateUser(t *testing.T, tx pgx.Tx, username string) models.User {
	t.Helper()

	repo := UserRepo{DB: tx}
	user, err := repo.CreateUser(t.Context(), username, "hashed-pwd")
	require.NoError(t, err)
	return user
}

func makeToken(userID uuid.UUID, hash string) models.RefreshToken {
	now := time.Now().Truncate(time.Microsecond)
	return models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hash,
		Version:   1,
		IssuedAt:  now,
		ExpiresAt: now.Add(30 * 24 * time.Hour),
		Device:    "test-agent",
		IP:        "127.0.0.1",
	}
}

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("save token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := mustCreateUser(t, tx, "nkiryanov")
			token := makeToken(user.ID, "hash-1")

			err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			tokens, err := repo.ListActiveForUser(t.Context(), user.ID, time.Now())
			require.NoError(t, err)
			require.Len(t, tokens, 1)

			got := tokens[0]
			require.Equal(t, token.ID, got.ID)
			require.Equal(t, user.ID, got.UserID)
			require.Equal(t, "hash-1", got.TokenHash)
			require.EqualValues(t, 1, got.Version)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, time.Microsecond)
			require.Nil(t, got.RevokedAt)
			require.Nil(t, got.ReplacedBy)
		})
	})

	t.Run("duplicate token hash rejected", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := mustCreateUser(t, tx, "nkiryanov")

			require.NoError(t, repo.Save(t.Context(), makeToken(user.ID, "hash-1")))

			err := repo.Save(t.Context(), makeToken(user.ID, "hash-1"))
			require.Error(t, err, "token_hash is unique")
		})
	})

	t.Run("revoke once wins", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := mustCreateUser(t, tx, "nkiryanov")
			require.NoError(t, repo.Save(t.Context(), makeToken(user.ID, "hash-1")))

			got, err := repo.Revoke(t.Context(), "hash-1", nil)

			require.NoError(t, err)
			require.NotNil(t, got.RevokedAt)
			require.WithinDuration(t, time.Now(), *got.RevokedAt, time.Minute)
		})
	})

	t.Run("second revoke is a reuse signal", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := mustCreateUser(t, tx, "nkiryanov")
			require.NoError(t, repo.Save(t.Context(), makeToken(user.ID, "hash-1")))

			first, err := repo.Revoke(t.Context(), "hash-1", nil)
			require.NoError(t, err)

			second, err := repo.Revoke(t.Context(), "hash-1", nil)

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrTokenReuseDetected)
			require.NotNil(t, second.RevokedAt, "record is still returned so the caller knows whose sessions to kill")
			require.Equal(t, first.RevokedAt, second.RevokedAt, "original revocation time must survive")
			require.Equal(t, user.ID, second.UserID)
		})
	})

	t.Run("revoke records successor", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := mustCreateUser(t, tx, "nkiryanov")
			require.NoError(t, repo.Save(t.Context(), makeToken(user.ID, "hash-1")))

			// The successor row is inserted later in the same tx, the FK is deferred
			successorID := uuid.New()
			got, err := repo.Revoke(t.Context(), "hash-1", &successorID)
			require.NoError(t, err)
			require.NotNil(t, got.ReplacedBy)
			require.Equal(t, successorID, *got.ReplacedBy)

			successor := makeToken(user.ID, "hash-2")
			successor.ID = successorID
			successor.Version = got.Version
			require.NoError(t, repo.Save(t.Context(), successor))
		})
	})

	t.Run("revoke not existed token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.Revoke(t.Context(), "no-such-hash", nil)
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("revoke all for user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := mustCreateUser(t, tx, "nkiryanov")
			other := mustCreateUser(t, tx, "other")

			require.NoError(t, repo.Save(t.Context(), makeToken(user.ID, "hash-1")))
			require.NoError(t, repo.Save(t.Context(), makeToken(user.ID, "hash-2")))
			require.NoError(t, repo.Save(t.Context(), makeToken(other.ID, "hash-3")))

			_, err := repo.Revoke(t.Context(), "hash-1", nil)
			require.NoError(t, err)

			count, err := repo.RevokeAllForUser(t.Context(), user.ID)

			require.NoError(t, err)
			require.EqualValues(t, 1, count, "only the remaining active token counts")

			left, err := repo.ListActiveForUser(t.Context(), other.ID, time.Now())
			require.NoError(t, err)
			require.Len(t, left, 1, "other users are untouched")
			require.Equal(t, "hash-3", left[0].TokenHash)
		})
	})

	t.Run("list active for user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := mustCreateUser(t, tx, "nkiryanov")

			active := makeToken(user.ID, "hash-active")
			require.NoError(t, repo.Save(t.Context(), active))

			expired := makeToken(user.ID, "hash-expired")
			expired.ExpiresAt = time.Now().Add(-time.Hour)
			require.NoError(t, repo.Save(t.Context(), expired))

			revoked := makeToken(user.ID, "hash-revoked")
			require.NoError(t, repo.Save(t.Context(), revoked))
			_, err := repo.Revoke(t.Context(), "hash-revoked", nil)
			require.NoError(t, err)

			tokens, err := repo.ListActiveForUser(t.Context(), user.ID, time.Now())

			require.NoError(t, err)
			require.Len(t, tokens, 1)
			require.Equal(t, active.ID, tokens[0].ID)
		})
	})
}
