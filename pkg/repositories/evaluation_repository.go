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

const evaluationsTable = "flag_evaluations"

// EvaluationRepository persists sampled evaluation records. Writes are
// best-effort; the evaluation hot path never waits on them.
type EvaluationRepository struct {
	*Repository
}

// NewEvaluationRepository creates a new evaluation repository
func NewEvaluationRepository(db database.DB, logger ectologger.Logger) *EvaluationRepository {
	return &EvaluationRepository{
		Repository: NewRepository(db, logger),
	}
}

// Record inserts one evaluation row.
func (r *EvaluationRepository) Record(ctx context.Context, eval *models.FlagEvaluation) error {
	ctx, span := tracing.StartSpan(ctx, "EvaluationRepository.Record")
	defer span.End()

	if eval.ID == uuid.Nil {
		eval.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(evaluationsTable).
		Cols("id", "flag_key", "environment", "user_id", "variant_key", "enabled", "reason", "evaluated_at").
		Values(eval.ID, eval.FlagKey, eval.Environment, eval.UserID, eval.VariantKey, eval.Enabled,
			eval.Reason, sqlbuilder.Raw("NOW()"))

	query, args := ib.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"flag_key": eval.FlagKey,
		}).Warn("failed to record evaluation")
		return err
	}

	return nil
}
