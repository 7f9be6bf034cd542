package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authd/internal/logger"
	"github.com/nkiryanov/authd/internal/models"
	"github.com/nkiryanov/authd/internal/repository"
)

// Recorder writes the ATTEMPT -> terminal audit trail for sensitive
// operations. A failed audit write is logged but never fails the guarded
// operation itself
type Recorder struct {
	repo   repository.AuditRepo
	logger logger.Logger
}

func NewRecorder(repo repository.AuditRepo, l logger.Logger) *Recorder {
	if l == nil {
		l = logger.NewNoOp()
	}

	return &Recorder{repo: repo, logger: l}
}

// Attempt writes the ATTEMPT row and returns a finish function that writes
// exactly one terminal row: SUCCEEDED when err is nil, FAILED otherwise
func (r *Recorder) Attempt(ctx context.Context, action models.AuditAction, actor string, resource string, metadata map[string]string) func(err error) {
	r.record(ctx, action, models.AuditStateAttempt, actor, resource, metadata)

	var done bool
	return func(err error) {
		if done {
			return
		}
		done = true

		state := models.AuditStateSucceeded
		md := metadata
		if err != nil {
			state = models.AuditStateFailed
			md = cloneWith(metadata, "error", err.Error())
		}
		r.record(ctx, action, state, actor, resource, md)
	}
}

func (r *Recorder) record(ctx context.Context, action models.AuditAction, state models.AuditState, actor string, resource string, metadata map[string]string) {
	event := models.AuditEvent{
		ID:        uuid.New(),
		Action:    action,
		State:     state,
		Actor:     actor,
		Resource:  resource,
		CreatedAt: time.Now(),
		Metadata:  metadata,
	}

	if err := r.repo.Save(ctx, event); err != nil {
		r.logger.Error("audit event not written",
			"action", action,
			"state", state,
			"actor", actor,
			"error", err.Error(),
		)
	}
}

func cloneWith(metadata map[string]string, key string, value string) map[string]string {
	md := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md[key] = value
	return md
}
