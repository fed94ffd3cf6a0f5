package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
)

// FlagConfig is the per-environment state of a flag. Exactly one row exists
// per (flag, environment).
type FlagConfig struct {
	ID                uuid.UUID                      `db:"id" json:"id"`
	FlagID            uuid.UUID                      `db:"flag_id" json:"flag_id"`
	EnvironmentID     uuid.UUID                      `db:"environment_id" json:"environment_id"`
	Environment       string                         `db:"environment" json:"environment"`
	Enabled           bool                           `db:"enabled" json:"enabled"`
	DefaultVariant    string                         `db:"default_variant" json:"default_variant"`
	RolloutPercentage int                            `db:"rollout_percentage" json:"rollout_percentage"`
	Config            database.JSONB[map[string]any] `db:"config" json:"config"`
	CreatedAt         time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time                      `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (FlagConfig) TableName() string {
	return "flag_configs"
}

// StickyVariants reports whether the weighted draw should be derived from the
// user bucket instead of a fresh random per evaluation.
func (c *FlagConfig) StickyVariants() bool {
	if c.Config.Data == nil {
		return false
	}
	v, ok := c.Config.Data["sticky_variants"].(bool)
	return ok && v
}
