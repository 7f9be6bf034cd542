package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authd/internal/models"
)

// Returned by compare-and-swap updates when the expected version did not
// match. Callers re-read and retry
var ErrVersionConflict = errors.New("version conflict")

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, username string, hashedPassword string) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	UpdatePassword(ctx context.Context, userID uuid.UUID, hashedPassword string) error

	// Increment failed_login_count in a single statement.
	// When the incremented count reaches threshold the row is locked until
	// 'lockedUntil'. Returns the user state after the update
	RecordLoginFailure(ctx context.Context, userID uuid.UUID, threshold int, lockedUntil time.Time) (models.User, error)

	// Reset failed_login_count and clear the lockout timestamp
	ResetLoginFailures(ctx context.Context, userID uuid.UUID) error

	// Compare-and-swap on min_token_version: set to 'next' only if the
	// stored value still equals 'expected'.
	// Must return ErrVersionConflict if the row moved underneath
	SetMinTokenVersion(ctx context.Context, userID uuid.UUID, expected int64, next int64) error
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Persist a new token record. Only the hash is ever stored
	Save(ctx context.Context, token models.RefreshToken) error

	// Revoke the token if it is not revoked yet; 'replacedBy' is set on
	// rotation only. Exactly one caller wins under concurrency.
	// If the token was revoked already must return apperrors.ErrTokenReuseDetected
	// together with the stored record, so the caller can react
	Revoke(ctx context.Context, tokenHash string, replacedBy *uuid.UUID) (models.RefreshToken, error)

	// Revoke every active token of the user, returns the number revoked
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// Active (not revoked, not expired) tokens of the user, newest first
	ListActiveForUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]models.RefreshToken, error)
}

// SecurityConfig repository interface
type SecurityConfigRepo interface {
	Get(ctx context.Context) (models.SecurityConfig, error)

	// Compare-and-swap on global_min_token_version.
	// Must return ErrVersionConflict if the stored value is not 'expected'
	SetGlobalMinTokenVersion(ctx context.Context, expected int64, next int64, updatedBy string, reason string) (models.SecurityConfig, error)
}

// Append-only audit sink. No read path is required by this service
type AuditRepo interface {
	Save(ctx context.Context, event models.AuditEvent) error
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	SecurityConfig() SecurityConfigRepo
	Audit() AuditRepo

	// Run fn with repositories bound to a single transaction
	InTx(ctx context.Context, fn func(Storage) error) error
}
