package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/risk"
	"go.uber.org/zap"
)

// evalCondition evaluates one condition against an action. Every failure
// mode — unresolved field, type mismatch, invalid regex — yields false
// rather than an error, and never aborts the rest of the rule walk.
func (e *Engine) evalCondition(c *Condition, a *action.Action, rc *action.RequestContext, tier risk.Tier) bool {
	resolved, ok := action.ResolveField(a, rc, tier, c.Field)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEquals:
		eq, ok := equalValues(resolved, c.Value)
		return ok && eq
	case OpNotEquals:
		eq, ok := equalValues(resolved, c.Value)
		return ok && !eq
	case OpGreaterThan, OpLessThan, OpGreaterThanOrEquals, OpLessThanOrEquals:
		return compareNumeric(resolved, c.Value, c.Operator)
	case OpContains:
		found, ok := containsValue(resolved, c.Value)
		return ok && found
	case OpNotContains:
		found, ok := containsValue(resolved, c.Value)
		return ok && !found
	case OpIn:
		member, ok := memberOf(resolved, c.Value)
		return ok && member
	case OpNotIn:
		member, ok := memberOf(resolved, c.Value)
		return ok && !member
	case OpMatchesRegex:
		return e.matchRegex(resolved, c.Value)
	default:
		return false
	}
}

// equalValues compares numerically when both sides are numbers, as booleans
// when both are booleans, or as strings otherwise. Returns ok=false when a
// meaningful comparison is impossible.
func equalValues(field, rule any) (equal bool, ok bool) {
	if fn, fok := toFloat(field); fok {
		if rn, rok := toFloat(rule); rok {
			return fn == rn, true
		}
	}
	if fb, fok := field.(bool); fok {
		if rb, rok := toBool(rule); rok {
			return fb == rb, true
		}
		return false, false
	}
	fs, fok := toString(field)
	rs, rok := toString(rule)
	if !fok || !rok {
		return false, false
	}
	return fs == rs, true
}

// compareNumeric requires both sides to be numeric; anything else is false.
func compareNumeric(field, rule any, op Operator) bool {
	fn, fok := toFloat(field)
	rn, rok := toFloat(rule)
	if !fok || !rok {
		return false
	}
	switch op {
	case OpGreaterThan:
		return fn > rn
	case OpLessThan:
		return fn < rn
	case OpGreaterThanOrEquals:
		return fn >= rn
	case OpLessThanOrEquals:
		return fn <= rn
	default:
		return false
	}
}

// containsValue handles the string-or-list duality of contains: a string
// field does a case-insensitive substring check, a list field a membership
// check. The rule value must be a scalar.
func containsValue(field, rule any) (found bool, ok bool) {
	needle, nok := toString(rule)
	if !nok {
		return false, false
	}
	switch fv := field.(type) {
	case string:
		return strings.Contains(strings.ToLower(fv), strings.ToLower(needle)), true
	case []string:
		for _, item := range fv {
			if strings.EqualFold(item, needle) {
				return true, true
			}
		}
		return false, true
	case []any:
		for _, item := range fv {
			if s, sok := toString(item); sok && strings.EqualFold(s, needle) {
				return true, true
			}
		}
		return false, true
	default:
		return false, false
	}
}

// memberOf requires the rule value to be a list and tests membership of the
// resolved field.
func memberOf(field, rule any) (member bool, ok bool) {
	list, lok := rule.([]any)
	if !lok {
		return false, false
	}
	for _, item := range list {
		if eq, eok := equalValues(field, item); eok && eq {
			return true, true
		}
	}
	return false, true
}

// matchRegex compiles the rule value as a case-insensitive pattern. An
// invalid pattern fails closed.
func (e *Engine) matchRegex(field, rule any) bool {
	pattern, ok := toString(rule)
	if !ok {
		return false
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		e.logger.Debug("invalid rule condition regex",
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		return false
	}
	fs, ok := toString(field)
	if !ok {
		fs = fmt.Sprintf("%v", field)
	}
	return re.MatchString(fs)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		if strings.EqualFold(b, "true") {
			return true, true
		}
		if strings.EqualFold(b, "false") {
			return false, true
		}
	}
	return false, false
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	default:
		return "", false
	}
}
