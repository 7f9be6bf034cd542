package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authd/internal/apperrors"
	"github.com/nkiryanov/authd/internal/models"
	"github.com/nkiryanov/authd/internal/repository"
)

// 256 bits of entropy per refresh token
const refreshTokenBytesLen = 32

func generateRefreshToken() (raw string, err error) {
	b := make([]byte, refreshTokenBytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating refresh token. Err: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Only this hash ever reaches the database
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// issuePair mints an access token and a refresh token, both stamped with
// the effective floor active right now
func (s *AuthService) issuePair(ctx context.Context, user models.User, device DeviceInfo) (models.TokenPair, error) {
	version, err := s.security.EffectiveFloor(ctx, user)
	if err != nil {
		return models.TokenPair{}, storeErr(err)
	}

	return s.issuePairAt(ctx, s.storage, user.ID, version, device)
}

func (s *AuthService) issuePairAt(ctx context.Context, storage repository.Storage, userID uuid.UUID, version int64, device DeviceInfo) (models.TokenPair, error) {
	access, err := s.token.Issue(userID, version)
	if err != nil {
		return models.TokenPair{}, err
	}

	raw, err := generateRefreshToken()
	if err != nil {
		return models.TokenPair{}, err
	}

	now := time.Now().Truncate(time.Second)
	record := models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hashToken(raw),
		Version:   version,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
		Device:    device.Device,
		IP:        device.IP,
	}

	if err := storage.Refresh().Save(ctx, record); err != nil {
		return models.TokenPair{}, storeErr(err)
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: raw, ExpiresAt: record.ExpiresAt},
	}, nil
}

// Refresh atomically rotates the presented token: the old record is
// revoked with replaced_by pointing at its successor and a new pair is
// issued, re-stamped with the current floor. Exactly one of two racing
// callers wins; the loser sees the reuse signal.
//
// A revoked token showing up here means the legitimate holder rotated it
// away earlier and somebody replayed the old value. When reuse defense is
// on, the user's floor is bumped and all their sessions die
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string, device DeviceInfo) (pair models.TokenPair, err error) {
	finish := s.audit.Attempt(ctx, models.AuditActionRefresh, "", "", nil)
	defer func() { finish(err) }()

	var reusedBy uuid.UUID

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		successorID := uuid.New()

		old, err := st.Refresh().Revoke(ctx, hashToken(rawRefresh), &successorID)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrTokenReuseDetected):
			reusedBy = old.UserID
			return err
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			return err
		default:
			return storeErr(err)
		}

		now := time.Now()
		if old.ExpiresAt.Before(now) {
			return apperrors.ErrRefreshTokenExpired
		}

		user, err := st.User().GetUserByID(ctx, old.UserID)
		if err != nil {
			return storeErr(err)
		}

		cfg, err := st.SecurityConfig().Get(ctx)
		if err != nil {
			return storeErr(err)
		}

		floor := max(cfg.GlobalMinTokenVersion, user.MinTokenVersion)
		if old.Version < floor {
			return apperrors.ErrTokenVersionStale
		}

		newPair, err := s.issueSuccessor(ctx, st, old, successorID, floor, device, now)
		if err != nil {
			return err
		}

		pair = newPair
		return nil
	})

	if err != nil && errors.Is(err, apperrors.ErrTokenReuseDetected) && s.reuseDefense && reusedBy != uuid.Nil {
		if _, rerr := s.security.RotateUser(ctx, reusedBy, "refresh token reuse", "authd"); rerr != nil {
			s.logger.Error("reuse defense rotation failed", "user_id", reusedBy, "error", rerr.Error())
		}
	}

	return pair, err
}

// issueSuccessor creates the successor record under the ID the revoked
// token already points at
func (s *AuthService) issueSuccessor(ctx context.Context, storage repository.Storage, old models.RefreshToken, successorID uuid.UUID, version int64, device DeviceInfo, now time.Time) (models.TokenPair, error) {
	access, err := s.token.Issue(old.UserID, version)
	if err != nil {
		return models.TokenPair{}, err
	}

	raw, err := generateRefreshToken()
	if err != nil {
		return models.TokenPair{}, err
	}

	record := models.RefreshToken{
		ID:         successorID,
		UserID:     old.UserID,
		TokenHash:  hashToken(raw),
		Version:    version,
		IssuedAt:   now.Truncate(time.Second),
		ExpiresAt:  now.Truncate(time.Second).Add(s.refreshTTL),
		Device:     device.Device,
		IP:         device.IP,
		LastUsedAt: &now,
	}

	if err := storage.Refresh().Save(ctx, record); err != nil {
		return models.TokenPair{}, storeErr(err)
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: raw, ExpiresAt: record.ExpiresAt},
	}, nil
}
