package storage

import "time"

// EventWriter is the interface for writing decision events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *DecisionEvent)
	Close()
}

// DecisionEvent represents a single processed action to be persisted
// for analytics.
type DecisionEvent struct {
	RequestID     string
	ActionID      string
	Timestamp     time.Time
	Kind          string // "agent" or "tool_call"
	Source        string
	Description   string
	ToolName      string
	AgentID       string
	ArgumentsJSON string
	RiskTier      string
	Disposition   string // "approve", "reject", "modify"
	Method        string // "auto" or "manual"
	MatchedRuleID string
	Reason        string
	IsDefault     bool
	LatencyMs     float32
	Metadata      map[string]string
}

// DescriptionPreviewLength is the max chars stored in the description column.
const DescriptionPreviewLength = 500

// TruncateDescription returns the first N characters (runes) of a description
// for storage. It never splits a multi-byte UTF-8 character.
func TruncateDescription(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
