package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
)

// AuditAction enumerates the mutations recorded in the audit log.
type AuditAction string

const (
	AuditActionCreate     AuditAction = "create"
	AuditActionUpdate     AuditAction = "update"
	AuditActionToggle     AuditAction = "toggle"
	AuditActionDelete     AuditAction = "delete"
	AuditActionKillSwitch AuditAction = "kill_switch"
)

// AuditSeverity marks how loudly an entry should surface in review.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityCritical AuditSeverity = "critical"
)

// AuditEntry is written inside every mutation transaction. Audit is
// write-only from the mutation paths; there is no read surface.
type AuditEntry struct {
	ID         uuid.UUID                      `db:"id" json:"id"`
	EntityType string                         `db:"entity_type" json:"entity_type"`
	EntityID   uuid.UUID                      `db:"entity_id" json:"entity_id"`
	Action     AuditAction                    `db:"action" json:"action"`
	Actor      string                         `db:"actor" json:"actor"`
	Severity   AuditSeverity                  `db:"severity" json:"severity"`
	Diff       database.JSONB[map[string]any] `db:"diff" json:"diff"`
	Reason     *string                        `db:"reason" json:"reason,omitempty"`
	CreatedAt  time.Time                      `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (AuditEntry) TableName() string {
	return "audit_log"
}
