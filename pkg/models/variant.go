package models

import (
	"time"

	"github.com/google/uuid"
)

// Variant is a named value within a flag. Weight participates in the weighted
// draw; weights need not sum to 100, the draw normalizes by the actual sum.
type Variant struct {
	ID         uuid.UUID `db:"id" json:"id"`
	FlagID     uuid.UUID `db:"flag_id" json:"flag_id"`
	VariantKey string    `db:"variant_key" json:"variant_key"`
	Value      string    `db:"value" json:"value"`
	Weight     int       `db:"weight" json:"weight"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Variant) TableName() string {
	return "flag_variants"
}
