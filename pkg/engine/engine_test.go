package engine_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/engine"
	"github.com/Ramsey-B/clover/pkg/models"
)

func snapshot(mutate ...func(*models.Snapshot)) *models.Snapshot {
	flagID := uuid.New()
	snap := &models.Snapshot{
		Flag: models.Flag{
			ID:       flagID,
			Key:      "dark_mode",
			Name:     "Dark Mode",
			FlagType: models.FlagTypeBoolean,
			Active:   true,
		},
		Config: models.FlagConfig{
			ID:                uuid.New(),
			FlagID:            flagID,
			Environment:       "production",
			Enabled:           true,
			DefaultVariant:    "false",
			RolloutPercentage: 0,
		},
		Variants: []models.Variant{
			{FlagID: flagID, VariantKey: "true", Value: "true", Weight: 50},
			{FlagID: flagID, VariantKey: "false", Value: "false", Weight: 50},
		},
	}
	for _, m := range mutate {
		m(snap)
	}
	return snap
}

func strPtr(s string) *string { return &s }

func opPtr(o models.Operator) *models.Operator { return &o }

func intPtr(i int) *int { return &i }

func attributeRule(name string, op models.Operator, value string, priority int) models.Rule {
	return models.Rule{
		ID:             uuid.New(),
		RuleType:       models.RuleTypeAttribute,
		AttributeName:  strPtr(name),
		Operator:       opPtr(op),
		AttributeValue: strPtr(value),
		VariantKey:     strPtr("true"),
		Priority:       priority,
	}
}

func TestEvaluate_DisabledDominates(t *testing.T) {
	e := engine.New()

	snap := snapshot(func(s *models.Snapshot) {
		s.Config.Enabled = false
		s.Config.RolloutPercentage = 100
		s.Rules = []models.Rule{attributeRule("country", models.OpEquals, "US", 1)}
	})

	d := e.Evaluate(snap, models.UserContext{UserID: "u1", Attributes: map[string]any{"country": "US"}})
	assert.False(t, d.Enabled)
	assert.Equal(t, "false", d.Variant)
	assert.Equal(t, engine.ReasonFlagDisabled, d.Reason)
}

func TestEvaluate_ZeroRollout(t *testing.T) {
	e := engine.New()

	d := e.Evaluate(snapshot(), models.UserContext{UserID: "anything"})
	assert.False(t, d.Enabled)
	assert.Equal(t, engine.ReasonZeroRollout, d.Reason)
}

func TestEvaluate_FullRollout(t *testing.T) {
	e := engine.New()

	snap := snapshot(func(s *models.Snapshot) { s.Config.RolloutPercentage = 100 })
	d := e.Evaluate(snap, models.UserContext{UserID: "u1"})
	assert.True(t, d.Enabled)
	assert.Equal(t, engine.ReasonFullRollout, d.Reason)
	assert.Contains(t, []string{"true", "false"}, d.Variant)
}

func TestEvaluate_PartialRollout_Deterministic(t *testing.T) {
	e := engine.New()

	snap := snapshot(func(s *models.Snapshot) { s.Config.RolloutPercentage = 40 })

	// The inclusion decision for a fixed user never flips between calls.
	first := e.Evaluate(snap, models.UserContext{UserID: "u42"})
	for i := 0; i < 50; i++ {
		again := e.Evaluate(snap, models.UserContext{UserID: "u42"})
		require.Equal(t, first.Enabled, again.Enabled)
	}

	if first.Enabled {
		assert.Equal(t, engine.ReasonRolloutMatch, first.Reason)
	} else {
		assert.Equal(t, engine.ReasonRolloutNoMatch, first.Reason)
	}
}

func TestEvaluate_PartialRollout_SplitsPopulation(t *testing.T) {
	e := engine.New()
	snap := snapshot(func(s *models.Snapshot) { s.Config.RolloutPercentage = 50 })

	in := 0
	const n = 2000
	for i := 0; i < n; i++ {
		d := e.Evaluate(snap, models.UserContext{UserID: fmt.Sprintf("user-%d", i)})
		if d.Enabled {
			in++
		}
	}
	assert.InDelta(t, n/2, in, n/10)
}

func TestEvaluate_AttributeRules(t *testing.T) {
	e := engine.New()

	tests := []struct {
		name    string
		op      models.Operator
		value   string
		attrs   map[string]any
		matched bool
		reason  engine.Reason
	}{
		{"equals match", models.OpEquals, "US", map[string]any{"country": "US"}, true, engine.ReasonAttributeMatch},
		{"equals case-insensitive", models.OpEquals, "US", map[string]any{"country": "us"}, true, engine.ReasonAttributeMatch},
		{"equals no match falls through", models.OpEquals, "US", map[string]any{"country": "DE"}, false, engine.ReasonZeroRollout},
		{"not_equals", models.OpNotEquals, "US", map[string]any{"country": "DE"}, true, engine.ReasonAttributeMatch},
		{"in list", models.OpIn, "US, CA , MX", map[string]any{"country": "ca"}, true, engine.ReasonAttributeMatch},
		{"not_in list", models.OpNotIn, "US,CA", map[string]any{"country": "DE"}, true, engine.ReasonAttributeMatch},
		{"contains", models.OpContains, "corp", map[string]any{"email": "a@BigCorp.com"}, true, engine.ReasonAttributeMatch},
		{"starts_with", models.OpStartsWith, "beta-", map[string]any{"cohort": "Beta-7"}, true, engine.ReasonAttributeMatch},
		{"ends_with", models.OpEndsWith, ".edu", map[string]any{"email": "x@school.EDU"}, true, engine.ReasonAttributeMatch},
		{"greater_than numeric", models.OpGreaterThan, "21", map[string]any{"age": float64(30)}, true, engine.ReasonAttributeMatch},
		{"greater_than string number", models.OpGreaterThan, "21", map[string]any{"age": "25"}, true, engine.ReasonAttributeMatch},
		{"greater_than unparsable", models.OpGreaterThan, "21", map[string]any{"age": "old"}, false, engine.ReasonZeroRollout},
		{"less_than", models.OpLessThan, "100", map[string]any{"score": "12.5"}, true, engine.ReasonAttributeMatch},
		{"attribute absent", models.OpEquals, "US", map[string]any{"region": "emea"}, false, engine.ReasonZeroRollout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := snapshot(func(s *models.Snapshot) {
				s.Rules = []models.Rule{attributeRule("country", tt.op, tt.value, 10)}
				if tt.name == "contains" || tt.name == "ends_with" {
					s.Rules[0].AttributeName = strPtr("email")
				}
				if tt.name == "starts_with" {
					s.Rules[0].AttributeName = strPtr("cohort")
				}
				if tt.name == "greater_than numeric" || tt.name == "greater_than string number" || tt.name == "greater_than unparsable" {
					s.Rules[0].AttributeName = strPtr("age")
				}
				if tt.name == "less_than" {
					s.Rules[0].AttributeName = strPtr("score")
				}
			})

			d := e.Evaluate(snap, models.UserContext{UserID: "u2", Attributes: tt.attrs})
			assert.Equal(t, tt.matched, d.Enabled)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestEvaluate_CustomAttributesOverrideBase(t *testing.T) {
	e := engine.New()
	snap := snapshot(func(s *models.Snapshot) {
		s.Rules = []models.Rule{attributeRule("country", models.OpEquals, "US", 10)}
	})

	d := e.Evaluate(snap, models.UserContext{
		UserID:           "u3",
		Attributes:       map[string]any{"country": "DE"},
		CustomAttributes: map[string]any{"country": "US"},
	})
	assert.True(t, d.Enabled)
	assert.Equal(t, engine.ReasonAttributeMatch, d.Reason)
}

func TestEvaluate_UserIDRule(t *testing.T) {
	e := engine.New()
	snap := snapshot(func(s *models.Snapshot) {
		s.Rules = []models.Rule{{
			ID:             uuid.New(),
			RuleType:       models.RuleTypeUserID,
			AttributeValue: strPtr("u1, u2,u3"),
			VariantKey:     strPtr("true"),
			Priority:       5,
		}}
	})

	d := e.Evaluate(snap, models.UserContext{UserID: "u2"})
	assert.True(t, d.Enabled)
	assert.Equal(t, engine.ReasonUserIDMatch, d.Reason)

	// Case-sensitive membership.
	d = e.Evaluate(snap, models.UserContext{UserID: "U2"})
	assert.False(t, d.Enabled)

	// Missing user id never matches.
	d = e.Evaluate(snap, models.UserContext{})
	assert.False(t, d.Enabled)
}

func TestEvaluate_PercentageRule_Sticky(t *testing.T) {
	e := engine.New()
	ruleID := uuid.New()
	snap := snapshot(func(s *models.Snapshot) {
		s.Rules = []models.Rule{{
			ID:         ruleID,
			RuleType:   models.RuleTypePercentage,
			Percentage: intPtr(30),
			VariantKey: strPtr("true"),
			Priority:   1,
		}}
	})

	first := e.Evaluate(snap, models.UserContext{UserID: "u7"})
	for i := 0; i < 20; i++ {
		require.Equal(t, first.Enabled, e.Evaluate(snap, models.UserContext{UserID: "u7"}).Enabled)
	}

	// Zero percentage rules never match.
	snap.Rules[0].Percentage = intPtr(0)
	d := e.Evaluate(snap, models.UserContext{UserID: "u7"})
	assert.Equal(t, engine.ReasonZeroRollout, d.Reason)
}

func TestEvaluate_RulePriority(t *testing.T) {
	e := engine.New()

	// Two matching rules; the lower priority number wins and later matches
	// have no effect.
	snap := snapshot(func(s *models.Snapshot) {
		low := attributeRule("country", models.OpEquals, "US", 20)
		low.VariantKey = strPtr("false")
		high := attributeRule("country", models.OpEquals, "US", 10)
		high.VariantKey = strPtr("true")
		s.Rules = []models.Rule{low, high}
	})

	d := e.Evaluate(snap, models.UserContext{UserID: "u1", Attributes: map[string]any{"country": "US"}})
	assert.True(t, d.Enabled)
	assert.Equal(t, "true", d.Variant)
}

func TestEvaluate_RuleWithoutVariantKeyUsesDefault(t *testing.T) {
	e := engine.New()
	snap := snapshot(func(s *models.Snapshot) {
		r := attributeRule("country", models.OpEquals, "US", 10)
		r.VariantKey = nil
		s.Rules = []models.Rule{r}
		s.Config.DefaultVariant = "false"
	})

	d := e.Evaluate(snap, models.UserContext{UserID: "u1", Attributes: map[string]any{"country": "US"}})
	assert.True(t, d.Enabled)
	assert.Equal(t, "false", d.Variant)
}

func TestEvaluate_SegmentRuleFallsThrough(t *testing.T) {
	e := engine.New()
	snap := snapshot(func(s *models.Snapshot) {
		s.Config.RolloutPercentage = 100
		s.Rules = []models.Rule{{
			ID:       uuid.New(),
			RuleType: models.RuleTypeSegment,
			Priority: 1,
		}}
	})

	// Segments are reserved: the rule never matches and evaluation continues
	// to the rollout percentage.
	d := e.Evaluate(snap, models.UserContext{UserID: "u1"})
	assert.True(t, d.Enabled)
	assert.Equal(t, engine.ReasonFullRollout, d.Reason)
}

func TestEvaluate_RegisteredRuleType(t *testing.T) {
	e := engine.New()
	e.Register(models.RuleTypeSegment, func(rule models.Rule, user models.UserContext) (bool, engine.Reason) {
		return user.UserID == "segment-member", engine.ReasonAttributeMatch
	})

	snap := snapshot(func(s *models.Snapshot) {
		s.Rules = []models.Rule{{
			ID:         uuid.New(),
			RuleType:   models.RuleTypeSegment,
			VariantKey: strPtr("true"),
			Priority:   1,
		}}
	})

	d := e.Evaluate(snap, models.UserContext{UserID: "segment-member"})
	assert.True(t, d.Enabled)

	d = e.Evaluate(snap, models.UserContext{UserID: "outsider"})
	assert.False(t, d.Enabled)
}

func TestEvaluate_InvalidSnapshot(t *testing.T) {
	e := engine.New()
	d := e.Evaluate(&models.Snapshot{}, models.UserContext{UserID: "u1"})
	assert.False(t, d.Enabled)
	assert.Equal(t, engine.ReasonInvalidContext, d.Reason)
}

func TestSelectVariant_WeightedDistribution(t *testing.T) {
	e := engine.New()
	snap := snapshot(func(s *models.Snapshot) {
		s.Config.RolloutPercentage = 100
		s.Variants = []models.Variant{
			{VariantKey: "a", Value: "a", Weight: 90},
			{VariantKey: "b", Value: "b", Weight: 10},
		}
	})

	counts := map[string]int{}
	for i := 0; i < 5000; i++ {
		d := e.Evaluate(snap, models.UserContext{UserID: "u1"})
		counts[d.Variant]++
	}

	assert.Greater(t, counts["a"], counts["b"])
	assert.InDelta(t, 4500, counts["a"], 500)
}

func TestSelectVariant_ZeroWeightFallsBackToLexicographicFirst(t *testing.T) {
	e := engine.New()
	snap := snapshot(func(s *models.Snapshot) {
		s.Config.RolloutPercentage = 100
		s.Variants = []models.Variant{
			{VariantKey: "zebra", Value: "z", Weight: 0},
			{VariantKey: "apple", Value: "a", Weight: 0},
		}
	})

	d := e.Evaluate(snap, models.UserContext{UserID: "u1"})
	assert.Equal(t, "apple", d.Variant)
}

func TestSelectVariant_BooleanFlagWithoutVariants(t *testing.T) {
	e := engine.New()
	snap := snapshot(func(s *models.Snapshot) {
		s.Config.RolloutPercentage = 100
		s.Variants = nil
	})

	d := e.Evaluate(snap, models.UserContext{UserID: "u1"})
	assert.Equal(t, "true", d.Variant)
}

func TestSelectVariant_Sticky(t *testing.T) {
	e := engine.New()
	snap := snapshot(func(s *models.Snapshot) {
		s.Config.RolloutPercentage = 100
		s.Config.Config = database.JSONB[map[string]any]{Data: map[string]any{"sticky_variants": true}}
		s.Variants = []models.Variant{
			{VariantKey: "a", Value: "a", Weight: 50},
			{VariantKey: "b", Value: "b", Weight: 50},
		}
	})

	first := e.Evaluate(snap, models.UserContext{UserID: "u9"})
	for i := 0; i < 50; i++ {
		require.Equal(t, first.Variant, e.Evaluate(snap, models.UserContext{UserID: "u9"}).Variant)
	}
}

func TestStickyDraw_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := engine.StickyDraw(fmt.Sprintf("user-%d", i), "some_flag")
		assert.GreaterOrEqual(t, d, 0.0)
		assert.Less(t, d, 1.0)
	}
}
