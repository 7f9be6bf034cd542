package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken as stored at rest. Only the hash of the opaque token is
// persisted, never the raw value
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string

	// Version stamped at issuance from the floors active at that moment
	Version int64

	IssuedAt  time.Time
	ExpiresAt time.Time

	RevokedAt  *time.Time // nil while the token is active
	ReplacedBy *uuid.UUID // successor token, set on rotation only

	// Opaque device/session metadata, no semantic meaning here
	Device     string
	IP         string
	LastUsedAt *time.Time
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Pair of tokens returned to the user on authentication
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
