package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authd/internal/apperrors"
	"github.com/nkiryanov/authd/internal/logger"
	"github.com/nkiryanov/authd/internal/models"
	"github.com/nkiryanov/authd/internal/repository"
	"github.com/nkiryanov/authd/internal/service/audit"
	"github.com/nkiryanov/authd/internal/service/security"
	"github.com/nkiryanov/authd/internal/service/auth/tokenmanager"
)

const (
	defaultRefreshTokenTTL  = 30 * 24 * time.Hour
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
)

// Compared against when the username is unknown, so both branches of a
// failed login burn one bcrypt verification
const unknownUserDigest = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

// Opaque device metadata attached to issued refresh tokens
type DeviceInfo struct {
	Device string
	IP     string
}

type Config struct {
	// Hasher for user passwords. BcryptHasher if not set
	Hasher PasswordHasher

	// Refresh token lifetime
	// If not set the default is used
	RefreshTokenTTL time.Duration

	// Consecutive failed logins before the account locks, and for how long
	LockoutThreshold int
	LockoutDuration  time.Duration

	// Bump the user floor and revoke all sessions when a rotated-out
	// refresh token is presented again. On unless explicitly disabled
	DisableReuseDefense bool
}

// AuthService is the single code path for all credential decisions:
// login, refresh rotation, request validation and logout
type AuthService struct {
	token    *tokenmanager.TokenManager
	hasher   PasswordHasher
	storage  repository.Storage
	security *security.Service
	audit    *audit.Recorder
	logger   logger.Logger

	refreshTTL       time.Duration
	lockoutThreshold int
	lockoutDuration  time.Duration
	reuseDefense     bool
}

func NewService(cfg Config, token *tokenmanager.TokenManager, storage repository.Storage, sec *security.Service, recorder *audit.Recorder, l logger.Logger) (*AuthService, error) {
	if token == nil || storage == nil || sec == nil || recorder == nil {
		return nil, errors.New("token manager, storage, security service and audit recorder must not be nil")
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = defaultRefreshTokenTTL
	}
	if cfg.LockoutThreshold == 0 {
		cfg.LockoutThreshold = defaultLockoutThreshold
	}
	if cfg.LockoutDuration == 0 {
		cfg.LockoutDuration = defaultLockoutDuration
	}
	if l == nil {
		l = logger.NewNoOp()
	}

	return &AuthService{
		token:            token,
		hasher:           hasher,
		storage:          storage,
		security:         sec,
		audit:            recorder,
		logger:           l,
		refreshTTL:       cfg.RefreshTokenTTL,
		lockoutThreshold: cfg.LockoutThreshold,
		lockoutDuration:  cfg.LockoutDuration,
		reuseDefense:     !cfg.DisableReuseDefense,
	}, nil
}

// Register creates the user and logs them in
func (s *AuthService) Register(ctx context.Context, username string, password string, device DeviceInfo) (models.TokenPair, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't use this as password, error=%w", err)
	}

	user, err := s.storage.User().CreateUser(ctx, username, hash)
	if err != nil {
		return models.TokenPair{}, err
	}

	return s.issuePair(ctx, user, device)
}

// Login verifies the password and returns a fresh token pair.
// Unknown user and wrong password are indistinguishable to the caller;
// a locked account is deliberately not
func (s *AuthService) Login(ctx context.Context, username string, password string, device DeviceInfo) (pair models.TokenPair, err error) {
	finish := s.audit.Attempt(ctx, models.AuditActionLogin, username, "", nil)
	defer func() { finish(err) }()

	user, err := s.storage.User().GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			_ = s.hasher.Compare(unknownUserDigest, password)
			return models.TokenPair{}, apperrors.ErrInvalidCredentials
		}
		return models.TokenPair{}, storeErr(err)
	}

	if user.Locked(time.Now()) {
		return models.TokenPair{}, apperrors.ErrAccountLocked
	}

	err = s.hasher.Compare(user.HashedPassword, password)
	switch {
	case err == nil:
		// fallthrough to issuing
	case errors.Is(err, apperrors.ErrCorruptDigest):
		return models.TokenPair{}, err
	default:
		return models.TokenPair{}, s.recordFailedLogin(ctx, user)
	}

	// Successful verification after an elapsed lock resets the counter
	if user.FailedLoginCount > 0 || user.LockedUntil != nil {
		if err := s.storage.User().ResetLoginFailures(ctx, user.ID); err != nil {
			return models.TokenPair{}, storeErr(err)
		}
	}

	return s.issuePair(ctx, user, device)
}

// recordFailedLogin bumps the failure counter and reports whether the
// account just crossed the lockout threshold
func (s *AuthService) recordFailedLogin(ctx context.Context, user models.User) error {
	updated, err := s.storage.User().RecordLoginFailure(
		ctx,
		user.ID,
		s.lockoutThreshold,
		time.Now().Add(s.lockoutDuration),
	)
	if err != nil {
		return storeErr(err)
	}

	if updated.LockedUntil != nil && user.LockedUntil == nil {
		finish := s.audit.Attempt(ctx, models.AuditActionLockout, user.Username, user.ID.String(), map[string]string{
			"locked_until": updated.LockedUntil.Format(time.RFC3339),
		})
		finish(nil)
		s.logger.Warn("account locked after repeated failures",
			"user_id", user.ID,
			"locked_until", *updated.LockedUntil,
		)
	}

	return apperrors.ErrInvalidCredentials
}

// ValidateRequest is called on every protected request: checks the access
// token signature and expiry, then its version claim against the current
// effective floor
func (s *AuthService) ValidateRequest(ctx context.Context, access string) (uuid.UUID, error) {
	userID, version, err := s.token.Parse(access)
	if err != nil {
		return uuid.Nil, err
	}

	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return uuid.Nil, apperrors.ErrInvalidCredentials
		}
		return uuid.Nil, storeErr(err)
	}

	floor, err := s.security.EffectiveFloor(ctx, user)
	if err != nil {
		return uuid.Nil, storeErr(err)
	}

	if version < floor {
		return uuid.Nil, apperrors.ErrTokenVersionStale
	}

	return userID, nil
}

// Logout revokes the presented refresh token. Revoking a token that is
// gone already is not an error: the session is dead either way
func (s *AuthService) Logout(ctx context.Context, rawRefresh string) (err error) {
	finish := s.audit.Attempt(ctx, models.AuditActionLogout, "", "", nil)
	defer func() { finish(err) }()

	_, err = s.storage.Refresh().Revoke(ctx, hashToken(rawRefresh), nil)
	switch {
	case err == nil, errors.Is(err, apperrors.ErrTokenReuseDetected):
		return nil
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return err
	default:
		return storeErr(err)
	}
}

// LogoutEverywhere runs user-scoped rotation on the caller's own account:
// the floor moves up and every session on every device dies
func (s *AuthService) LogoutEverywhere(ctx context.Context, userID uuid.UUID) error {
	_, err := s.security.RotateUser(ctx, userID, "logout everywhere", userID.String())
	return err
}

// ChangePassword verifies the current password, stores the new hash and
// rotates the user's security: every other session is logged out
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current string, next string) (err error) {
	finish := s.audit.Attempt(ctx, models.AuditActionPasswordChange, userID.String(), userID.String(), nil)
	defer func() { finish(err) }()

	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return apperrors.ErrInvalidCredentials
		}
		return storeErr(err)
	}

	err = s.hasher.Compare(user.HashedPassword, current)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrCorruptDigest):
		return err
	default:
		return apperrors.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("can't use this as password, error=%w", err)
	}

	if err := s.storage.User().UpdatePassword(ctx, userID, hash); err != nil {
		return storeErr(err)
	}

	_, err = s.security.RotateUser(ctx, userID, "password change", user.Username)
	return err
}

// Map anything that is not a domain sentinel onto the indeterminate
// store error, so callers never read a db hiccup as "token invalid"
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
}
