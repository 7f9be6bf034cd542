package security

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authd/internal/logger"
	"github.com/nkiryanov/authd/internal/models"
	"github.com/nkiryanov/authd/internal/repository"
	"github.com/nkiryanov/authd/internal/service/audit"
)

// Bounded retries for the compare-and-swap loops. Concurrent bumps
// conflict, re-read and land on a strictly higher version, so a handful
// of attempts is plenty
const casMaxAttempts = 5

// Service is the token version registry and the breach rotation
// orchestrator on top of it. Version floors only ever move up
type Service struct {
	storage repository.Storage
	audit   *audit.Recorder
	logger  logger.Logger
}

func NewService(storage repository.Storage, recorder *audit.Recorder, l logger.Logger) (*Service, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder must not be nil")
	}
	if l == nil {
		l = logger.NewNoOp()
	}

	return &Service{
		storage: storage,
		audit:   recorder,
		logger:  l,
	}, nil
}

// EffectiveFloor is the minimum token version accepted for the user:
// the greater of the global floor and the per-user one
func (s *Service) EffectiveFloor(ctx context.Context, user models.User) (int64, error) {
	cfg, err := s.storage.SecurityConfig().Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("can't read global floor. Err: %w", err)
	}

	return max(cfg.GlobalMinTokenVersion, user.MinTokenVersion), nil
}

// BumpGlobal raises the global floor by one through compare-and-swap.
// Concurrent calls conflict, retry against the fresh value and each end
// up with a version higher than what they started from
func (s *Service) BumpGlobal(ctx context.Context, reason string, actor string) (int64, error) {
	repo := s.storage.SecurityConfig()

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		cfg, err := repo.Get(ctx)
		if err != nil {
			return 0, fmt.Errorf("can't read security config. Err: %w", err)
		}

		next := cfg.GlobalMinTokenVersion + 1
		_, err = repo.SetGlobalMinTokenVersion(ctx, cfg.GlobalMinTokenVersion, next, actor, reason)

		switch {
		case err == nil:
			return next, nil
		case errors.Is(err, repository.ErrVersionConflict):
			continue
		default:
			return 0, fmt.Errorf("can't bump global floor. Err: %w", err)
		}
	}

	return 0, fmt.Errorf("global floor update contended: %w", repository.ErrVersionConflict)
}

// BumpUser raises the per-user floor by one through compare-and-swap
func (s *Service) BumpUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	users := s.storage.User()

	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		user, err := users.GetUserByID(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("can't read user. Err: %w", err)
		}

		next := user.MinTokenVersion + 1
		err = users.SetMinTokenVersion(ctx, userID, user.MinTokenVersion, next)

		switch {
		case err == nil:
			return next, nil
		case errors.Is(err, repository.ErrVersionConflict):
			continue
		default:
			return 0, fmt.Errorf("can't bump user floor. Err: %w", err)
		}
	}

	return 0, fmt.Errorf("user floor update contended: %w", repository.ErrVersionConflict)
}

// RotateUser bumps the user floor and revokes every active session:
// immediate logout on all devices. Used for logout-everywhere, password
// change and suspected single-account compromise
func (s *Service) RotateUser(ctx context.Context, userID uuid.UUID, reason string, actor string) (version int64, err error) {
	finish := s.audit.Attempt(ctx, models.AuditActionUserRotation, actor, userID.String(), map[string]string{
		"reason": reason,
	})
	defer func() { finish(err) }()

	version, err = s.BumpUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	revoked, err := s.storage.Refresh().RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("floor bumped but sessions not revoked. Err: %w", err)
	}

	s.logger.Info("user security rotated",
		"user_id", userID,
		"new_version", version,
		"sessions_revoked", revoked,
		"reason", reason,
	)

	return version, nil
}

// RotateGlobal bumps the global floor. No per-token writes happen: every
// outstanding token dies at validation time against the raised floor.
// The grace period is advisory metadata for operator communication,
// enforcement is immediate
func (s *Service) RotateGlobal(ctx context.Context, reason string, actor string, gracePeriod time.Duration) (version int64, err error) {
	finish := s.audit.Attempt(ctx, models.AuditActionGlobalRotation, actor, "security_config", map[string]string{
		"reason":           reason,
		"grace_period_sec": strconv.FormatInt(int64(gracePeriod.Seconds()), 10),
	})
	defer func() { finish(err) }()

	version, err = s.BumpGlobal(ctx, reason, actor)
	if err != nil {
		return 0, err
	}

	s.logger.Warn("global security rotation",
		"new_version", version,
		"reason", reason,
		"grace_period", gracePeriod,
	)

	return version, nil
}
