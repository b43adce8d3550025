package rules

import (
	"time"

	"github.com/tollgate-ai/tollgate/internal/action"
)

// Disposition is the outcome a matching rule requests.
type Disposition string

const (
	DispositionAutoApprove     Disposition = "auto_approve"
	DispositionAutoReject      Disposition = "auto_reject"
	DispositionRequireApproval Disposition = "require_approval"
)

// Valid reports whether d is a known disposition.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionAutoApprove, DispositionAutoReject, DispositionRequireApproval:
		return true
	default:
		return false
	}
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals              Operator = "equals"
	OpNotEquals           Operator = "not_equals"
	OpGreaterThan         Operator = "greater_than"
	OpLessThan            Operator = "less_than"
	OpGreaterThanOrEquals Operator = "greater_than_or_equals"
	OpLessThanOrEquals    Operator = "less_than_or_equals"
	OpContains            Operator = "contains"
	OpNotContains         Operator = "not_contains"
	OpIn                  Operator = "in"
	OpNotIn               Operator = "not_in"
	OpMatchesRegex        Operator = "matches_regex"
)

// Condition is a single (field, operator, value) predicate. A condition
// whose field does not resolve for the action evaluates false.
type Condition struct {
	Field    action.ConditionField `json:"field"`
	Operator Operator              `json:"operator"`
	Value    any                   `json:"value"`
}

// Rule is an operator-authored approval rule. Conditions are conjunctive;
// an empty condition list matches every action.
type Rule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Priority    int         `json:"priority"`
	Enabled     bool        `json:"enabled"`
	Conditions  []Condition `json:"conditions"`
	Disposition Disposition `json:"disposition"`
	Reason      string      `json:"reason,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
