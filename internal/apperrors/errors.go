package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Returned on any login failure the caller must not be able to tell
	// apart: unknown user and wrong password look the same
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Deliberately distinguishable from ErrInvalidCredentials
	ErrAccountLocked = errors.New("account locked")

	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")

	// Signature and expiry check out but the version claim is below the
	// effective floor for the user
	ErrTokenVersionStale = errors.New("token version below current floor")

	// An already rotated or revoked refresh token was presented again.
	// Treated as a theft signal
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")

	// Indeterminate result: the backing store could not answer.
	// Never mapped to "token valid" or "token invalid"
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// Stored password digest is not a valid bcrypt hash
	ErrCorruptDigest = errors.New("corrupt password digest")
)
