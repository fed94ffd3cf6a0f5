package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Ramsey-B/clover/pkg/bucket"
	"github.com/Ramsey-B/clover/pkg/models"
)

func evalPercentageRule(rule models.Rule, user models.UserContext) (bool, Reason) {
	if rule.Percentage == nil || *rule.Percentage <= 0 {
		return false, ReasonZeroPercentage
	}

	// The rule id salts the bucket so overlapping percentage rules admit
	// independent populations.
	if bucket.InRollout(user.Identifier(), rule.ID.String(), *rule.Percentage) {
		return true, ReasonPercentageMatch
	}
	return false, ReasonPercentageNoMatch
}

func evalAttributeRule(rule models.Rule, user models.UserContext) (bool, Reason) {
	if rule.AttributeName == nil || rule.Operator == nil || rule.AttributeValue == nil {
		return false, ReasonInvalidAttributeRule
	}

	attrs := user.MergedAttributes()
	raw, ok := attrs[*rule.AttributeName]
	if !ok {
		return false, ReasonAttributeNotFound
	}

	left := canonicalString(raw)
	right := strings.ToLower(strings.TrimSpace(*rule.AttributeValue))

	if matchOperator(*rule.Operator, left, right) {
		return true, ReasonAttributeMatch
	}
	return false, ReasonAttributeNoMatch
}

func evalUserIDRule(rule models.Rule, user models.UserContext) (bool, Reason) {
	if user.UserID == "" || rule.AttributeValue == nil || *rule.AttributeValue == "" {
		return false, ReasonInvalidUserIDRule
	}

	// Membership is case-sensitive, unlike attribute comparisons.
	for _, candidate := range splitList(*rule.AttributeValue) {
		if candidate == user.UserID {
			return true, ReasonUserIDMatch
		}
	}
	return false, ReasonUserIDNoMatch
}

func matchOperator(op models.Operator, left, right string) bool {
	switch op {
	case models.OpEquals:
		return left == right
	case models.OpNotEquals:
		return left != right
	case models.OpIn:
		return containsToken(right, left)
	case models.OpNotIn:
		return !containsToken(right, left)
	case models.OpContains:
		return strings.Contains(left, right)
	case models.OpStartsWith:
		return strings.HasPrefix(left, right)
	case models.OpEndsWith:
		return strings.HasSuffix(left, right)
	case models.OpGreaterThan:
		l, r, ok := parseNumericPair(left, right)
		return ok && l > r
	case models.OpLessThan:
		l, r, ok := parseNumericPair(left, right)
		return ok && l < r
	default:
		return false
	}
}

// canonicalString lowers an arbitrary attribute value into the comparison
// form shared by both sides of every operator.
func canonicalString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(t))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(t.String()))
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", t)))
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsToken(list, value string) bool {
	for _, token := range splitList(list) {
		if strings.ToLower(token) == value {
			return true
		}
	}
	return false
}

func parseNumericPair(left, right string) (float64, float64, bool) {
	l, err := strconv.ParseFloat(left, 64)
	if err != nil {
		return 0, 0, false
	}
	r, err := strconv.ParseFloat(right, 64)
	if err != nil {
		return 0, 0, false
	}
	return l, r, true
}
