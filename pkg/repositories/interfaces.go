package repositories

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/models"
)

// EnvironmentRepo defines the interface for environment repository operations
type EnvironmentRepo interface {
	List(ctx context.Context) ([]models.Environment, error)
	GetByName(ctx context.Context, name string) (*models.Environment, error)
}

// FlagRepo defines the interface for flag repository operations
type FlagRepo interface {
	Create(ctx context.Context, req *CreateFlagRequest) (*models.Flag, error)
	GetByKey(ctx context.Context, key string) (*models.Flag, error)
	UpdateMeta(ctx context.Context, key string, name *string, description *string) (*models.Flag, error)
	List(ctx context.Context, page, perPage int, activeOnly bool) ([]models.Flag, int, error)
	SoftDelete(ctx context.Context, key string) error
	CountAll(ctx context.Context) (total int, active int, err error)
}

// FlagConfigRepo defines the interface for per-environment config operations
type FlagConfigRepo interface {
	GetSnapshot(ctx context.Context, flagKey, environment string) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context, environment string) ([]models.Snapshot, error)
	UpdateConfig(ctx context.Context, flagKey, environment string, patch *ConfigPatch) (*models.FlagConfig, error)
	Toggle(ctx context.Context, flagKey, environment string, enabled bool) (*models.FlagConfig, error)
	DisableAll(ctx context.Context, flagKey, reason string) ([]string, error)
	CountEnabledByEnvironment(ctx context.Context) (map[string]int, error)
}

// EvaluationRepo records sampled evaluation outcomes
type EvaluationRepo interface {
	Record(ctx context.Context, eval *models.FlagEvaluation) error
}

// VariantInput describes a variant supplied on flag creation.
type VariantInput struct {
	VariantKey string `json:"variant_key" validate:"required"`
	Value      string `json:"value" validate:"required"`
	Weight     int    `json:"weight" validate:"gte=0,lte=100"`
}

// RuleInput describes one rule in a config update. Rules are replaced
// wholesale; there is no per-rule patch.
type RuleInput struct {
	RuleType       models.RuleType  `json:"rule_type" validate:"required"`
	AttributeName  *string          `json:"attribute_name,omitempty"`
	Operator       *models.Operator `json:"operator,omitempty"`
	AttributeValue *string          `json:"attribute_value,omitempty"`
	Percentage     *int             `json:"percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	VariantKey     *string          `json:"variant_key,omitempty"`
	Priority       int              `json:"priority"`
}

// CreateFlagRequest is the repository-level creation payload.
type CreateFlagRequest struct {
	Key         string          `json:"key"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	FlagType    models.FlagType `json:"flag_type"`
	Variants    []VariantInput  `json:"variants,omitempty"`
}

// ConfigPatch modifies only the fields present. A non-nil Rules replaces the
// config's rule set.
type ConfigPatch struct {
	Enabled           *bool           `json:"enabled,omitempty"`
	DefaultVariant    *string         `json:"default_variant,omitempty"`
	RolloutPercentage *int            `json:"rollout_percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	Config            *map[string]any `json:"config,omitempty"`
	Rules             *[]RuleInput    `json:"rules,omitempty"`
}
