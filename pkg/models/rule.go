package models

import (
	"time"

	"github.com/google/uuid"
)

// RuleType selects the evaluation strategy for a rollout rule.
type RuleType string

const (
	RuleTypePercentage RuleType = "percentage"
	RuleTypeAttribute  RuleType = "attribute"
	RuleTypeUserID     RuleType = "user_id"
	RuleTypeSegment    RuleType = "segment"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleTypePercentage, RuleTypeAttribute, RuleTypeUserID, RuleTypeSegment:
		return true
	}
	return false
}

// Operator is the comparison applied by attribute rules.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpIn, OpNotIn, OpContains, OpStartsWith, OpEndsWith, OpGreaterThan, OpLessThan:
		return true
	}
	return false
}

// Rule targets a subset of users for a flag config. Rules are replaced
// wholesale on config update, never patched in place.
type Rule struct {
	ID             uuid.UUID `db:"id" json:"id"`
	FlagConfigID   uuid.UUID `db:"flag_config_id" json:"flag_config_id"`
	RuleType       RuleType  `db:"rule_type" json:"rule_type"`
	AttributeName  *string   `db:"attribute_name" json:"attribute_name,omitempty"`
	Operator       *Operator `db:"operator" json:"operator,omitempty"`
	AttributeValue *string   `db:"attribute_value" json:"attribute_value,omitempty"`
	Percentage     *int      `db:"percentage" json:"percentage,omitempty"`
	VariantKey     *string   `db:"variant_key" json:"variant_key,omitempty"`
	Priority       int       `db:"priority" json:"priority"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Rule) TableName() string {
	return "rollout_rules"
}
