package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	AuditActionLogin          AuditAction = "login"
	AuditActionRefresh        AuditAction = "refresh"
	AuditActionLogout         AuditAction = "logout"
	AuditActionPasswordChange AuditAction = "password_change"
	AuditActionUserRotation   AuditAction = "user_rotation"
	AuditActionGlobalRotation AuditAction = "global_rotation"
	AuditActionLockout        AuditAction = "lockout"
)

type AuditState string

const (
	AuditStateAttempt   AuditState = "ATTEMPT"
	AuditStateSucceeded AuditState = "SUCCEEDED"
	AuditStateFailed    AuditState = "FAILED"
)

// AuditEvent is append-only. Every sensitive operation writes one ATTEMPT
// row followed by exactly one terminal row
type AuditEvent struct {
	ID        uuid.UUID
	Action    AuditAction
	State     AuditState
	Actor     string
	Resource  string
	CreatedAt time.Time
	Metadata  map[string]string
}
