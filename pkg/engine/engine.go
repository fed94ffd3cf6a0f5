// Package engine is the rule engine shared by the evaluation service and the
// SDK. It is a decision function over a config snapshot; the server and every
// client run the same code. Inclusion decisions are deterministic per user;
// the variant draw within a rollout is random per evaluation unless the
// config opts into sticky variants.
package engine

import (
	"math/rand"
	"sort"

	"github.com/Ramsey-B/clover/pkg/bucket"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Reason tags are part of the evaluation contract and are surfaced in
// metrics and API responses.
type Reason string

const (
	ReasonFlagDisabled         Reason = "flag_disabled"
	ReasonZeroPercentage       Reason = "zero_percentage"
	ReasonPercentageMatch      Reason = "percentage_match"
	ReasonPercentageNoMatch    Reason = "percentage_no_match"
	ReasonInvalidAttributeRule Reason = "invalid_attribute_rule"
	ReasonAttributeNotFound    Reason = "attribute_not_found"
	ReasonAttributeMatch       Reason = "attribute_match"
	ReasonAttributeNoMatch     Reason = "attribute_no_match"
	ReasonInvalidUserIDRule    Reason = "invalid_user_id_rule"
	ReasonUserIDMatch          Reason = "user_id_match"
	ReasonUserIDNoMatch        Reason = "user_id_no_match"
	ReasonZeroRollout          Reason = "zero_rollout"
	ReasonFullRollout          Reason = "full_rollout"
	ReasonRolloutMatch         Reason = "rollout_match"
	ReasonRolloutNoMatch       Reason = "rollout_no_match"
	ReasonUnknownRuleType      Reason = "unknown_rule_type"
	ReasonFlagNotFound         Reason = "flag_not_found"
	ReasonInvalidContext       Reason = "invalid_context"
	ReasonEvaluationError      Reason = "evaluation_error"
)

// Decision is the outcome of evaluating one snapshot against one context.
type Decision struct {
	Enabled bool   `json:"enabled"`
	Variant string `json:"variant"`
	Reason  Reason `json:"reason"`
}

// RuleFunc evaluates a single rule against a context. It returns whether the
// rule matched and the reason describing the outcome.
type RuleFunc func(rule models.Rule, user models.UserContext) (bool, Reason)

// Engine evaluates snapshots. Rule dispatch is a table keyed by rule type so
// new types (segments) can be registered without touching the hot path.
type Engine struct {
	rules     map[models.RuleType]RuleFunc
	randFloat func() float64
}

// New creates an engine with the built-in rule set.
func New() *Engine {
	e := &Engine{
		rules:     make(map[models.RuleType]RuleFunc),
		randFloat: rand.Float64,
	}
	e.Register(models.RuleTypePercentage, evalPercentageRule)
	e.Register(models.RuleTypeAttribute, evalAttributeRule)
	e.Register(models.RuleTypeUserID, evalUserIDRule)
	return e
}

// Register installs or replaces the evaluator for a rule type.
func (e *Engine) Register(ruleType models.RuleType, fn RuleFunc) {
	e.rules[ruleType] = fn
}

// Evaluate runs the full decision algorithm:
//
//  1. A disabled config dominates everything.
//  2. Rules in ascending priority order; the first match wins.
//  3. No rule matched: the config-level rollout percentage decides, keyed by
//     the user's bucket for this flag.
func (e *Engine) Evaluate(snap *models.Snapshot, user models.UserContext) Decision {
	if !snap.Valid() {
		return Decision{Enabled: false, Variant: "", Reason: ReasonInvalidContext}
	}

	cfg := snap.Config
	if !cfg.Enabled {
		return Decision{Enabled: false, Variant: cfg.DefaultVariant, Reason: ReasonFlagDisabled}
	}

	rules := make([]models.Rule, len(snap.Rules))
	copy(rules, snap.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})

	for _, rule := range rules {
		fn, ok := e.rules[rule.RuleType]
		if !ok {
			// Reserved types (segment) fall through without matching.
			continue
		}
		matched, reason := fn(rule, user)
		if !matched {
			continue
		}

		variant := cfg.DefaultVariant
		if rule.VariantKey != nil && *rule.VariantKey != "" {
			variant = *rule.VariantKey
		}
		return Decision{Enabled: true, Variant: variant, Reason: reason}
	}

	return e.evaluateRollout(snap, user)
}

func (e *Engine) evaluateRollout(snap *models.Snapshot, user models.UserContext) Decision {
	cfg := snap.Config
	id := user.Identifier()

	switch {
	case cfg.RolloutPercentage <= 0:
		return Decision{Enabled: false, Variant: cfg.DefaultVariant, Reason: ReasonZeroRollout}
	case cfg.RolloutPercentage >= 100:
		return Decision{Enabled: true, Variant: e.selectVariant(snap, user), Reason: ReasonFullRollout}
	case bucket.InRollout(id, snap.Flag.Key, cfg.RolloutPercentage):
		return Decision{Enabled: true, Variant: e.selectVariant(snap, user), Reason: ReasonRolloutMatch}
	default:
		return Decision{Enabled: false, Variant: cfg.DefaultVariant, Reason: ReasonRolloutNoMatch}
	}
}
