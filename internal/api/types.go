package api

import (
	"fmt"
	"time"

	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/rules"
)

// ErrorResp is the uniform error envelope.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// CheckRequest submits one action for a decision.
type CheckRequest struct {
	Action  action.Action          `json:"action"`
	Context *action.RequestContext `json:"context,omitempty"`
}

// validate enforces the tagged-union shape before the pipeline sees it.
func (r *CheckRequest) validate() error {
	switch r.Action.Kind {
	case action.KindAgent:
		if r.Action.Agent == nil {
			return fmt.Errorf("agent action requires the agent payload")
		}
		if r.Action.Tool != nil {
			return fmt.Errorf("agent action must not carry a tool payload")
		}
		if r.Action.Agent.AgentID == "" || r.Action.Agent.ActionType == "" {
			return fmt.Errorf("agent action requires agent_id and action_type")
		}
	case action.KindToolCall:
		if r.Action.Tool == nil {
			return fmt.Errorf("tool_call action requires the tool payload")
		}
		if r.Action.Agent != nil {
			return fmt.Errorf("tool_call action must not carry an agent payload")
		}
		if r.Action.Tool.ServerID == "" || r.Action.Tool.ToolName == "" {
			return fmt.Errorf("tool_call action requires server_id and tool_name")
		}
	default:
		return fmt.Errorf("unknown action kind %q", r.Action.Kind)
	}
	return nil
}

// BatchCheckRequest submits multiple actions, processed in order.
type BatchCheckRequest struct {
	Items []CheckRequest `json:"items"`
}

// DecideRequest applies a manual decision to a pending approval.
type DecideRequest struct {
	Disposition       string         `json:"disposition"`
	Reason            string         `json:"reason,omitempty"`
	ModifiedArguments map[string]any `json:"modified_arguments,omitempty"`
}

// CreateRuleRequest creates an approval rule. Enabled defaults to true.
type CreateRuleRequest struct {
	Name        string            `json:"name"`
	Priority    int               `json:"priority"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Conditions  []rules.Condition `json:"conditions,omitempty"`
	Disposition rules.Disposition `json:"disposition"`
	Reason      string            `json:"reason,omitempty"`
}

// UpdateRuleRequest patches a rule; nil fields are left unchanged.
type UpdateRuleRequest struct {
	Name        *string            `json:"name,omitempty"`
	Priority    *int               `json:"priority,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"`
	Conditions  *[]rules.Condition `json:"conditions,omitempty"`
	Disposition *rules.Disposition `json:"disposition,omitempty"`
	Reason      *string            `json:"reason,omitempty"`
}

// CreateClientRequest issues a new API credential.
type CreateClientRequest struct {
	Name string `json:"name"`
}

// ClientResp is an API client without its key hash.
type ClientResp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	KeyPrefix string    `json:"key_prefix"`
	CreatedAt time.Time `json:"created_at"`
	// APIKey is present only in the create response.
	APIKey string `json:"api_key,omitempty"`
}

// EventResp is a decision event row for the dashboard.
type EventResp struct {
	RequestID     string    `json:"request_id"`
	ActionID      string    `json:"action_id"`
	Timestamp     time.Time `json:"timestamp"`
	Kind          string    `json:"kind"`
	Source        string    `json:"source"`
	Description   string    `json:"description"`
	ToolName      string    `json:"tool_name,omitempty"`
	AgentID       string    `json:"agent_id,omitempty"`
	ArgumentsJSON string    `json:"arguments_json,omitempty"`
	RiskTier      string    `json:"risk_tier"`
	Disposition   string    `json:"disposition"`
	Method        string    `json:"method"`
	MatchedRuleID string    `json:"matched_rule_id,omitempty"`
	Reason        string    `json:"reason"`
	IsDefault     bool      `json:"is_default"`
	LatencyMs     float32   `json:"latency_ms"`
}

// ListEventsResp is the paginated event listing envelope.
type ListEventsResp struct {
	Events   []EventResp `json:"events"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}
