package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/authd/internal/models"
	"github.com/nkiryanov/authd/internal/repository"
)

type SecurityConfigRepo struct {
	DB DBTX
}

const getSecurityConfig = `-- name: GetSecurityConfig
SELECT global_min_token_version, updated_at, updated_by, last_rotation_reason
FROM security_config
WHERE id = 1
`

func (r *SecurityConfigRepo) Get(ctx context.Context) (models.SecurityConfig, error) {
	rows, _ := r.DB.Query(ctx, getSecurityConfig)
	cfg, err := pgx.CollectOneRow(rows, rowToSecurityConfig)
	if err != nil {
		return cfg, fmt.Errorf("db error: %w", err)
	}
	return cfg, nil
}

const setGlobalMinTokenVersion = `-- name: SetGlobalMinTokenVersion
UPDATE security_config
SET global_min_token_version = $2,
    updated_at = $3,
    updated_by = $4,
    last_rotation_reason = $5
WHERE id = 1 AND global_min_token_version = $1
RETURNING global_min_token_version, updated_at, updated_by, last_rotation_reason
`

// Compare-and-swap on the global floor. Concurrent incident responses
// both observe a conflict instead of silently losing an update
func (r *SecurityConfigRepo) SetGlobalMinTokenVersion(ctx context.Context, expected int64, next int64, updatedBy string, reason string) (models.SecurityConfig, error) {
	rows, _ := r.DB.Query(ctx, setGlobalMinTokenVersion, expected, next, time.Now(), updatedBy, reason)
	cfg, err := pgx.CollectOneRow(rows, rowToSecurityConfig)

	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, pgx.ErrNoRows):
		return cfg, repository.ErrVersionConflict
	default:
		return cfg, fmt.Errorf("db error: %w", err)
	}
}

func rowToSecurityConfig(row pgx.CollectableRow) (models.SecurityConfig, error) {
	var c models.SecurityConfig
	err := row.Scan(&c.GlobalMinTokenVersion, &c.UpdatedAt, &c.UpdatedBy, &c.LastRotationReason)
	return c, err
}
