// Package store is the persistence boundary of the decision engine. The
// Postgres implementation is the single source of truth for rules, pending
// approvals and decision history; MemoryStore backs tests.
package store

import (
	"context"
	"time"

	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/rules"
)

// UpdateRuleParams holds optional fields for partial rule updates.
// Nil means "don't change".
type UpdateRuleParams struct {
	Name        *string
	Priority    *int
	Enabled     *bool
	Conditions  *[]rules.Condition
	Disposition *rules.Disposition
	Reason      *string
}

// Store is the persistent record store the core operates against. Every
// read happens at the start of the relevant operation; nothing is cached
// across calls.
type Store interface {
	// Rules. GetEnabledRules returns rules ordered by descending priority,
	// ties broken by creation time then ID.
	GetEnabledRules(ctx context.Context) ([]rules.Rule, error)
	GetAllRules(ctx context.Context) ([]rules.Rule, error)
	GetRule(ctx context.Context, id string) (*rules.Rule, error)
	CreateRule(ctx context.Context, r *rules.Rule) error
	UpdateRule(ctx context.Context, id string, params UpdateRuleParams) (*rules.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	// SeedDefaultRules inserts the given rules only when the rule table is
	// empty, so operator edits survive restarts.
	SeedDefaultRules(ctx context.Context, seed []rules.Rule) error

	// Pending approvals.
	AddPendingApproval(ctx context.Context, p *action.PendingApproval) error
	GetPendingApprovals(ctx context.Context) ([]action.PendingApproval, error)
	GetPendingApproval(ctx context.Context, id string) (*action.PendingApproval, error)
	IncrementViewCount(ctx context.Context, id string) error
	GetExpiredApprovals(ctx context.Context, now time.Time) ([]action.PendingApproval, error)

	// FinalizePending atomically removes a pending approval and appends the
	// history entry recording its outcome. Returns false when the item was
	// already gone, in which case nothing is written.
	FinalizePending(ctx context.Context, id string, entry *action.HistoryEntry) (bool, error)

	// History.
	AppendHistory(ctx context.Context, entry *action.HistoryEntry) error
	GetRecentHistory(ctx context.Context, limit int) ([]action.HistoryEntry, error)
}

// APIClient represents an issued API credential.
type APIClient struct {
	ID        string
	Name      string
	KeyHash   string
	KeyPrefix string
	CreatedAt time.Time
}

// ClientStore manages API credentials for the HTTP surface.
type ClientStore interface {
	// CreateClient issues a new key; the returned plaintext is shown once.
	CreateClient(ctx context.Context, name string) (*APIClient, string, error)
	ListClients(ctx context.Context) ([]APIClient, error)
	// LookupClientByPrefix returns nil when no client has the prefix.
	LookupClientByPrefix(ctx context.Context, prefix string) (*APIClient, error)
}
