package postgres

import (
	"context"
	"fmt"

	"github.com/nkiryanov/authd/internal/models"
)

type AuditRepo struct {
	DB DBTX
}

const saveAuditEvent = `-- name: SaveAuditEvent
INSERT INTO audit_events (id, action, state, actor, resource, created_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (r *AuditRepo) Save(ctx context.Context, event models.AuditEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	_, err := r.DB.Exec(ctx, saveAuditEvent,
		event.ID, event.Action, event.State, event.Actor, event.Resource, event.CreatedAt, metadata,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
