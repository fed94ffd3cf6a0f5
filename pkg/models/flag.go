package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// FlagType determines how a variant's raw value is parsed on read.
type FlagType string

const (
	FlagTypeBoolean FlagType = "boolean"
	FlagTypeString  FlagType = "string"
	FlagTypeNumber  FlagType = "number"
	FlagTypeJSON    FlagType = "json"
)

func (t FlagType) Valid() bool {
	switch t {
	case FlagTypeBoolean, FlagTypeString, FlagTypeNumber, FlagTypeJSON:
		return true
	}
	return false
}

// FlagKeyPattern constrains flag keys to lowercase snake identifiers.
var FlagKeyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Flag is a named toggle with a variant set and one config per environment.
// Soft-deleted flags keep their rows with Active cleared.
type Flag struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Key         string    `db:"key" json:"key"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	FlagType    FlagType  `db:"flag_type" json:"flag_type"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Flag) TableName() string {
	return "feature_flags"
}
