package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authd/internal/repository"
	"github.com/nkiryanov/authd/internal/testutil"
)

func Test_SecurityConfigRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("singleton row seeded by migration", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := SecurityConfigRepo{DB: tx}

			cfg, err := repo.Get(t.Context())

			require.NoError(t, err)
			require.EqualValues(t, 1, cfg.GlobalMinTokenVersion)
		})
	})

	t.Run("bump global floor", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := SecurityConfigRepo{DB: tx}

			cfg, err := repo.SetGlobalMinTokenVersion(t.Context(), 1, 2, "operator", "credential breach")

			require.NoError(t, err)
			require.EqualValues(t, 2, cfg.GlobalMinTokenVersion)
			require.Equal(t, "operator", cfg.UpdatedBy)
			require.Equal(t, "credential breach", cfg.LastRotationReason)
			require.WithinDuration(t, time.Now(), cfg.UpdatedAt, time.Minute)
		})
	})

	t.Run("stale expected value conflicts", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := SecurityConfigRepo{DB: tx}

			_, err := repo.SetGlobalMinTokenVersion(t.Context(), 1, 2, "operator", "first")
			require.NoError(t, err)

			_, err = repo.SetGlobalMinTokenVersion(t.Context(), 1, 2, "operator", "second")
			require.Error(t, err)
			assert.ErrorIs(t, err, repository.ErrVersionConflict)

			cfg, err := repo.Get(t.Context())
			require.NoError(t, err)
			require.EqualValues(t, 2, cfg.GlobalMinTokenVersion, "losing update must not move the floor")
			require.Equal(t, "first", cfg.LastRotationReason)
		})
	})
}
