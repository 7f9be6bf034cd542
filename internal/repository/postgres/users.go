package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authd/internal/apperrors"
	"github.com/nkiryanov/authd/internal/models"
	"github.com/nkiryanov/authd/internal/repository"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, username, password_hash, min_token_version, failed_login_count, locked_until`

const createUser = `-- name: CreateUser
INSERT INTO users (id, username, password_hash)
VALUES ($1, $2, $3)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, username string, hashedPassword string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser, uuid.New(), username, hashedPassword)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrUserAlreadyExists
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + `
FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, userID)
	return collectUser(rows)
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT ` + userColumns + `
FROM users
WHERE username = $1
`

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByUsername, username)
	return collectUser(rows)
}

const updatePassword = `-- name: UpdatePassword
UPDATE users
SET password_hash = $2
WHERE id = $1
`

func (r *UserRepo) UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error {
	tag, err := r.DB.Exec(ctx, updatePassword, userID, hashedPassword)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

const recordLoginFailure = `-- name: RecordLoginFailure
UPDATE users
SET failed_login_count = failed_login_count + 1,
    locked_until = CASE
        WHEN failed_login_count + 1 >= $2 THEN $3
        ELSE locked_until
    END
WHERE id = $1
RETURNING ` + userColumns

// Increment failure counter and set the lockout timestamp when the
// threshold is reached. Single statement, so concurrent failures never
// lose increments
func (r *UserRepo) RecordLoginFailure(ctx context.Context, userID uuid.UUID, threshold int, lockedUntil time.Time) (models.User, error) {
	rows, _ := r.DB.Query(ctx, recordLoginFailure, userID, threshold, lockedUntil)
	return collectUser(rows)
}

const resetLoginFailures = `-- name: ResetLoginFailures
UPDATE users
SET failed_login_count = 0, locked_until = NULL
WHERE id = $1
`

func (r *UserRepo) ResetLoginFailures(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, resetLoginFailures, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

const setMinTokenVersion = `-- name: SetMinTokenVersion
UPDATE users
SET min_token_version = $3
WHERE id = $1 AND min_token_version = $2
`

// Compare-and-swap on the per-user version floor
func (r *UserRepo) SetMinTokenVersion(ctx context.Context, userID uuid.UUID, expected int64, next int64) error {
	tag, err := r.DB.Exec(ctx, setMinTokenVersion, userID, expected, next)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrVersionConflict
	}
	return nil
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Username, &u.HashedPassword, &u.MinTokenVersion, &u.FailedLoginCount, &u.LockedUntil)
	return u, err
}
