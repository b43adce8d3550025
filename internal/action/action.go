// Package action defines the domain types flowing through the decision
// engine: the polymorphic Action under judgement, the request context it
// arrived with, and the decision, pending-approval and history records the
// engine produces. Every action, whether an autonomous agent operation or a
// tool call from an external server, is normalized into the same tagged
// union for uniform rule evaluation.
package action

import (
	"time"

	"github.com/tollgate-ai/tollgate/internal/risk"
	"github.com/tollgate-ai/tollgate/internal/validator"
)

// Kind discriminates the two Action variants.
type Kind string

const (
	KindAgent    Kind = "agent"
	KindToolCall Kind = "tool_call"
)

// Status is the lifecycle state of an Action.
type Status string

const (
	StatusProposed Status = "proposed"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// AgentDetails is the agent-operation variant payload.
type AgentDetails struct {
	AgentID           string `json:"agent_id"`
	AgentName         string `json:"agent_name,omitempty"`
	AgentType         string `json:"agent_type,omitempty"`
	ActionType        string `json:"action_type"`
	MemoryCompromised bool   `json:"memory_compromised"`
}

// ToolCallDetails is the tool-call variant payload.
type ToolCallDetails struct {
	ServerID  string         `json:"server_id"`
	ServerName string        `json:"server_name,omitempty"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	// Source is the declared client-source label of the call.
	Source string `json:"source,omitempty"`
	// ArgumentSchema is the tool's declared JSON schema, used to vet
	// modified arguments on a "modify" decision.
	ArgumentSchema map[string]any `json:"argument_schema,omitempty"`
}

// Action is the thing being judged: a tagged union over an agent operation
// and a tool call. Exactly one of Agent/Tool is set, matching Kind.
// RuleEngine and RiskScorer treat it as read-only; only the orchestrator
// mutates Status.
type Action struct {
	ID                string            `json:"id"`
	Kind              Kind              `json:"kind"`
	Description       string            `json:"description"`
	DeclaredRisk      risk.Tier         `json:"declared_risk"`
	EstimatedValueUSD *float64          `json:"estimated_value_usd,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
	Status            Status            `json:"status"`
	Validation        *validator.Result `json:"validation,omitempty"`

	Agent *AgentDetails    `json:"agent,omitempty"`
	Tool  *ToolCallDetails `json:"tool,omitempty"`
}

// Name returns the action-type or tool name used for keyword risk matching.
func (a *Action) Name() string {
	switch a.Kind {
	case KindAgent:
		if a.Agent != nil {
			return a.Agent.ActionType
		}
	case KindToolCall:
		if a.Tool != nil {
			return a.Tool.ToolName
		}
	}
	return ""
}

// SourceTag returns the queue/history source label for the action.
func (a *Action) SourceTag() string {
	if a.Kind == KindToolCall {
		return "mcp"
	}
	return "agent"
}

// Capability describes the permission governing the action at its origin.
type Capability struct {
	Name             string `json:"name"`
	RequiresApproval bool   `json:"requires_approval"`
}

// RequestContext carries requester-side facts the action itself does not.
type RequestContext struct {
	// Source is the caller-declared origin tag, e.g. "agent" or "mcp".
	Source string `json:"source,omitempty"`
	// TrustedOrigin marks an explicitly trusted server or agent.
	TrustedOrigin bool `json:"trusted_origin"`
	// TrustLevel is the requester's 0-100 trust score.
	TrustLevel int `json:"trust_level"`
	// Capability is the governing capability, when known.
	Capability *Capability `json:"capability,omitempty"`
}

// DecisionDisposition is the outcome applied to an action.
type DecisionDisposition string

const (
	DecisionApprove DecisionDisposition = "approve"
	DecisionReject  DecisionDisposition = "reject"
	DecisionModify  DecisionDisposition = "modify"
)

// DecisionMethod records whether a human was involved.
type DecisionMethod string

const (
	MethodAuto   DecisionMethod = "auto"
	MethodManual DecisionMethod = "manual"
)

// Decision is an immutable record of how an action was finalized.
type Decision struct {
	Disposition       DecisionDisposition `json:"disposition"`
	Method            DecisionMethod      `json:"method"`
	MatchedRuleID     string              `json:"matched_rule_id,omitempty"`
	Reason            string              `json:"reason"`
	Timestamp         time.Time           `json:"timestamp"`
	ModifiedArguments map[string]any      `json:"modified_arguments,omitempty"`
}

// PendingApproval is an action parked awaiting a human decision.
type PendingApproval struct {
	ID       string    `json:"id"`
	Source   string    `json:"source"`
	Action   Action    `json:"action"`
	RiskTier risk.Tier `json:"risk_tier"`
	QueuedAt time.Time `json:"queued_at"`
	// ExpiresAt zero means the item never expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	ViewCount int       `json:"view_count"`
}

// Expired reports whether the item's expiry has passed at the given instant.
func (p *PendingApproval) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !p.ExpiresAt.After(now)
}

// HistoryEntry is an append-only record of a terminal decision. The Action
// is a frozen copy taken at decision time.
type HistoryEntry struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Action      Action    `json:"action"`
	RiskTier    risk.Tier `json:"risk_tier"`
	Decision    Decision  `json:"decision"`
	ProcessedAt time.Time `json:"processed_at"`
}
