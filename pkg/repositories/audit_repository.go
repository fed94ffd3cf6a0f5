package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const auditLogTable = "audit_log"

// AuditRepository writes audit entries. Every call joins the caller's open
// transaction so the entry commits or rolls back with the mutation itself.
type AuditRepository struct {
	*Repository
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db database.DB, logger ectologger.Logger) *AuditRepository {
	return &AuditRepository{
		Repository: NewRepository(db, logger),
	}
}

// Record writes one audit entry inside the ambient transaction.
func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditEntry) error {
	ctx, span := tracing.StartSpan(ctx, "AuditRepository.Record")
	defer span.End()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Actor == "" {
		entry.Actor = GetActor(ctx)
	}
	if entry.Severity == "" {
		entry.Severity = models.AuditSeverityInfo
	}

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return Internal("failed to start transaction")
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(auditLogTable).
		Cols("id", "entity_type", "entity_id", "action", "actor", "severity", "diff", "reason", "created_at").
		Values(entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.Actor, entry.Severity,
			entry.Diff, entry.Reason, sqlbuilder.Raw("NOW()"))

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_type": entry.EntityType,
			"entity_id":   entry.EntityID,
			"action":      entry.Action,
		}).Error("failed to record audit entry")
		return Internal("failed to record audit entry")
	}

	return nil
}
