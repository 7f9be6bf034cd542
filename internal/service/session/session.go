package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authd/internal/models"
	"github.com/nkiryanov/authd/internal/repository"
)

// Session is what a user sees about one of their active devices.
// Token hashes never leave the repository layer
type Session struct {
	ID         uuid.UUID
	Device     string
	IP         string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time
}

// Service is a read-only view over the refresh token store for
// multi-device visibility. No state of its own
type Service struct {
	storage repository.Storage
}

func NewService(storage repository.Storage) (*Service, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}
	return &Service{storage: storage}, nil
}

// ListActive returns the user's live sessions, newest first
func (s *Service) ListActive(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	tokens, err := s.storage.Refresh().ListActiveForUser(ctx, userID, time.Now())
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, len(tokens))
	for _, t := range tokens {
		sessions = append(sessions, toSession(t))
	}
	return sessions, nil
}

func toSession(t models.RefreshToken) Session {
	return Session{
		ID:         t.ID,
		Device:     t.Device,
		IP:         t.IP,
		IssuedAt:   t.IssuedAt,
		ExpiresAt:  t.ExpiresAt,
		LastUsedAt: t.LastUsedAt,
	}
}
