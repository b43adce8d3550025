package rules

import (
	"fmt"

	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/risk"
)

// DefaultDisposition maps a risk tier to the disposition used when no rule
// matches. The map guarantees critical-risk actions are never auto-approved
// by omission and the engine never stalls on an empty rule set.
func DefaultDisposition(t risk.Tier) Disposition {
	switch t {
	case risk.TierLow:
		return DispositionAutoApprove
	case risk.TierCritical:
		return DispositionAutoReject
	default:
		return DispositionRequireApproval
	}
}

func defaultReason(t risk.Tier) string {
	switch DefaultDisposition(t) {
	case DispositionAutoApprove:
		return fmt.Sprintf("no rule matched; %s risk is approved by default", t)
	case DispositionAutoReject:
		return fmt.Sprintf("no rule matched; %s risk is rejected by default", t)
	default:
		return fmt.Sprintf("no rule matched; %s risk requires approval by default", t)
	}
}

// DefaultRules returns the operator rule set seeded on first run.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "Block compromised agents",
			Priority: 100,
			Enabled:  true,
			Conditions: []Condition{
				{Field: action.FieldMemoryCompromised, Operator: OpEquals, Value: true},
			},
			Disposition: DispositionAutoReject,
			Reason:      "agent memory integrity check failed",
		},
		{
			Name:     "Escalate high-value transfers",
			Priority: 90,
			Enabled:  true,
			Conditions: []Condition{
				{Field: action.FieldEstimatedValueUSD, Operator: OpGreaterThan, Value: 1000.0},
			},
			Disposition: DispositionRequireApproval,
			Reason:      "estimated value exceeds the unattended limit",
		},
		{
			Name:     "Allow low-risk calls from trusted servers",
			Priority: 10,
			Enabled:  true,
			Conditions: []Condition{
				{Field: action.FieldRiskLevel, Operator: OpEquals, Value: "low"},
				{Field: action.FieldMCPServerTrusted, Operator: OpEquals, Value: true},
			},
			Disposition: DispositionAutoApprove,
			Reason:      "low-risk call from a trusted server",
		},
	}
}
