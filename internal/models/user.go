package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	HashedPassword string

	// Per-user floor for acceptable token versions.
	// Monotonically non-decreasing, bumped only through compare-and-swap
	MinTokenVersion int64

	FailedLoginCount int
	LockedUntil      *time.Time // nil if account is not locked
}

// Locked reports whether the account lockout window is still open at 'now'
func (u User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
