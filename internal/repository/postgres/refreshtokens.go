package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/authd/internal/apperrors"
	"github.com/nkiryanov/authd/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, user_id, token_hash, version, issued_at, expires_at, revoked_at, replaced_by, device, ip, last_used_at`

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token_hash, version, issued_at, expires_at, revoked_at, replaced_by, device, ip, last_used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) error {
	rows, _ := r.DB.Query(ctx, saveToken,
		token.ID, token.UserID, token.TokenHash, token.Version,
		token.IssuedAt, token.ExpiresAt, token.RevokedAt, token.ReplacedBy,
		token.Device, token.IP, token.LastUsedAt,
	)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const revokeToken = `-- name: RevokeToken
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2),
    replaced_by = COALESCE(replaced_by, $3)
WHERE token_hash = $1
RETURNING ` + tokenColumns

// Revoke marks the token revoked unless some other caller got there first.
// COALESCE keeps the original revoked_at, so comparing the returned value
// against our own timestamp decides the winner in one round trip.
// A token that turns out revoked already is a reuse signal
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenHash string, replacedBy *uuid.UUID) (models.RefreshToken, error) {
	now := time.Now().Truncate(time.Microsecond)

	rows, _ := r.DB.Query(ctx, revokeToken, tokenHash, now, replacedBy)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil && token.RevokedAt != nil && token.RevokedAt.Equal(now):
		return token, nil
	case err == nil:
		return token, apperrors.ErrTokenReuseDetected
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshTokenNotFound
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeAllForUser = `-- name: RevokeAllForUser
UPDATE refresh_tokens
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const listActiveForUser = `-- name: ListActiveForUser
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
ORDER BY issued_at DESC
`

func (r *RefreshTokenRepo) ListActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, listActiveForUser, userID, now)
	tokens, err := pgx.CollectRows(rows, rowToToken)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.Version,
		&t.IssuedAt, &t.ExpiresAt, &t.RevokedAt, &t.ReplacedBy,
		&t.Device, &t.IP, &t.LastUsedAt,
	)
	return t, err
}
