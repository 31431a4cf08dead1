package core

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	attributeTenantID = "tenantId"
	attributeUserID   = "userId"
)

// effectiveAttributes layers the synthetic tenantId/userId entries over a copy
// of the caller's attributes.
func effectiveAttributes(ec EvaluationContext) map[string]any {
	attributes := make(map[string]any, len(ec.Attributes)+2)
	for key, value := range ec.Attributes {
		attributes[key] = value
	}
	if tenant := ec.tenant(); tenant != "" {
		attributes[attributeTenantID] = tenant
	}
	if user := ec.user(); user != "" {
		attributes[attributeUserID] = user
	}
	return attributes
}

// attributeText renders an attribute for comparison. Missing and nil values
// are the empty string.
func attributeText(attributes map[string]any, name string) string {
	value, ok := attributes[name]
	if !ok || value == nil {
		return ""
	}

	switch typed := value.(type) {
	case string:
		return typed
	case Value:
		return typed.Text()
	case fmt.Stringer:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	default:
		return fmt.Sprint(value)
	}
}

func ruleMatches(rule TargetingRule, value string) bool {
	switch rule.Operator {
	case OperatorEquals, OperatorIn:
		return equalsAny(value, rule.Values)
	case OperatorNotEquals, OperatorNotIn:
		return !equalsAny(value, rule.Values)
	case OperatorContains:
		return containsAny(value, rule.Values)
	case OperatorNotContains:
		return !containsAny(value, rule.Values)
	case OperatorGreaterThan:
		return compareAny(value, rule.Values, func(attr, target float64) bool { return attr > target })
	case OperatorLessThan:
		return compareAny(value, rule.Values, func(attr, target float64) bool { return attr < target })
	default:
		return false
	}
}

func equalsAny(value string, candidates []string) bool {
	for _, candidate := range candidates {
		if strings.EqualFold(value, candidate) {
			return true
		}
	}
	return false
}

func containsAny(value string, candidates []string) bool {
	lowered := strings.ToLower(value)
	for _, candidate := range candidates {
		if strings.Contains(lowered, strings.ToLower(candidate)) {
			return true
		}
	}
	return false
}

// compareAny never matches unparsable numbers, on either side.
func compareAny(value string, candidates []string, cmp func(attr, target float64) bool) bool {
	attr, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return false
	}
	for _, candidate := range candidates {
		target, err := strconv.ParseFloat(strings.TrimSpace(candidate), 64)
		if err != nil {
			continue
		}
		if cmp(attr, target) {
			return true
		}
	}
	return false
}

func describeRule(rule TargetingRule) string {
	return fmt.Sprintf("%s %s %s", rule.Attribute, rule.Operator, strings.Join(rule.Values, ", "))
}
