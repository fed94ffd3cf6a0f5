package models

import (
	"time"

	"github.com/google/uuid"
)

// Environment is a deployment scope a flag is configured for. The set of
// environments is fixed at deploy time by the migrations.
type Environment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Environment) TableName() string {
	return "environments"
}

// Known environment names seeded by the migrations.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)
