package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/authd/internal/apperrors"
)

// Bcrypt password hasher
// Passwords are pre-hashed with sha256 to dodge bcrypt's 72 byte input limit
type BcryptHasher struct {
	// Work factor. Zero means bcrypt.DefaultCost; raise it as hardware improves
	Cost int
}

func (h BcryptHasher) cost() int {
	if h.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return h.Cost
}

func (h BcryptHasher) Hash(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], h.cost())
	return string(hash), err
}

// Compare known hashedPassword and user provided password.
// A digest that is not valid bcrypt output at all is reported as
// apperrors.ErrCorruptDigest, never as a plain mismatch
func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])

	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return err
	default:
		return fmt.Errorf("%w: %w", apperrors.ErrCorruptDigest, err)
	}
}
