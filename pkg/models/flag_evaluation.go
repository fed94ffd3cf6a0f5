package models

import (
	"time"

	"github.com/google/uuid"
)

// FlagEvaluation is a sampled record of one evaluation, persisted best-effort
// for rollout monitoring.
type FlagEvaluation struct {
	ID          uuid.UUID `db:"id" json:"id"`
	FlagKey     string    `db:"flag_key" json:"flag_key"`
	Environment string    `db:"environment" json:"environment"`
	UserID      string    `db:"user_id" json:"user_id"`
	VariantKey  string    `db:"variant_key" json:"variant_key"`
	Enabled     bool      `db:"enabled" json:"enabled"`
	Reason      string    `db:"reason" json:"reason"`
	EvaluatedAt time.Time `db:"evaluated_at" json:"evaluated_at"`
}

// TableName returns the database table name
func (FlagEvaluation) TableName() string {
	return "flag_evaluations"
}
