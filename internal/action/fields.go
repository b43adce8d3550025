package action

import (
	"encoding/json"

	"github.com/tollgate-ai/tollgate/internal/risk"
)

// ConditionField names a fact about an action that a rule condition can
// reference. The set is closed; anything else resolves to undefined.
type ConditionField string

const (
	FieldSource            ConditionField = "source"
	FieldRiskLevel         ConditionField = "riskLevel"
	FieldEstimatedValueUSD ConditionField = "estimatedValueUsd"
	FieldAgentType         ConditionField = "agentType"
	FieldAgentTrustLevel   ConditionField = "agentTrustLevel"
	FieldActionType        ConditionField = "actionType"
	FieldMemoryCompromised ConditionField = "memoryCompromised"
	FieldMCPServerTrusted  ConditionField = "mcpServerTrusted"
	FieldMCPToolName       ConditionField = "mcpToolName"
	FieldMCPSource         ConditionField = "mcpSource"
)

// ResolveField is the single mapping from a condition field to its value for
// a given action. The second return is false when the field does not apply
// to this action (wrong variant, missing context, unknown field); a condition
// on an unresolved field always evaluates false, never true.
func ResolveField(a *Action, rc *RequestContext, tier risk.Tier, f ConditionField) (any, bool) {
	switch f {
	case FieldSource:
		if rc != nil && rc.Source != "" {
			return rc.Source, true
		}
		return a.SourceTag(), true
	case FieldRiskLevel:
		return string(tier), true
	case FieldEstimatedValueUSD:
		if a.EstimatedValueUSD == nil {
			return nil, false
		}
		return *a.EstimatedValueUSD, true
	case FieldAgentType:
		if a.Agent == nil {
			return nil, false
		}
		return a.Agent.AgentType, true
	case FieldAgentTrustLevel:
		if rc == nil {
			return nil, false
		}
		return float64(rc.TrustLevel), true
	case FieldActionType:
		if a.Agent == nil {
			return nil, false
		}
		return a.Agent.ActionType, true
	case FieldMemoryCompromised:
		if a.Agent == nil {
			return nil, false
		}
		return a.Agent.MemoryCompromised, true
	case FieldMCPServerTrusted:
		if a.Tool == nil || rc == nil {
			return nil, false
		}
		return rc.TrustedOrigin, true
	case FieldMCPToolName:
		if a.Tool == nil {
			return nil, false
		}
		return a.Tool.ToolName, true
	case FieldMCPSource:
		if a.Tool == nil {
			return nil, false
		}
		return a.Tool.Source, true
	default:
		return nil, false
	}
}

// ScoreInputFor assembles the risk scorer's input from an action and its
// request context.
func ScoreInputFor(a *Action, rc *RequestContext) risk.Input {
	in := risk.Input{
		DeclaredRisk: a.DeclaredRisk,
		Name:         a.Name(),
	}
	if rc != nil {
		in.Trusted = rc.TrustedOrigin
		in.TrustLevel = rc.TrustLevel
	}
	if a.Tool != nil && len(a.Tool.Arguments) > 0 {
		if encoded, err := json.Marshal(a.Tool.Arguments); err == nil {
			in.ArgumentsJSON = string(encoded)
		}
	}
	return in
}
