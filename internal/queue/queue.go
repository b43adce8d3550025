// Package queue exposes pending-approval operations on top of the store:
// enqueueing actions that need a human decision, listing and inspecting
// them, and summarizing the queue for badge and dashboard display.
package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/risk"
	"github.com/tollgate-ai/tollgate/internal/store"
)

// Queue manages pending approvals awaiting a manual decision.
type Queue struct {
	store  store.Store
	logger *zap.Logger
}

func New(st store.Store, logger *zap.Logger) *Queue {
	return &Queue{store: st, logger: logger}
}

// Enqueue adds a pending approval to the queue.
func (q *Queue) Enqueue(ctx context.Context, p *action.PendingApproval) error {
	if err := q.store.AddPendingApproval(ctx, p); err != nil {
		return fmt.Errorf("Enqueue: %w", err)
	}
	q.logger.Info("approval queued",
		zap.String("id", p.ID),
		zap.String("source", p.Source),
		zap.String("risk_tier", string(p.RiskTier)),
		zap.Time("expires_at", p.ExpiresAt),
	)
	return nil
}

// List returns all pending approvals in queue order (oldest first).
func (q *Queue) List(ctx context.Context) ([]action.PendingApproval, error) {
	return q.store.GetPendingApprovals(ctx)
}

// Get returns a pending approval by ID and records the view. Returns nil
// when the item is not queued.
func (q *Queue) Get(ctx context.Context, id string) (*action.PendingApproval, error) {
	p, err := q.store.GetPendingApproval(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	if err := q.store.IncrementViewCount(ctx, id); err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	p.ViewCount++
	return p, nil
}

// Expired returns the pending approvals whose deadline has passed.
func (q *Queue) Expired(ctx context.Context, now time.Time) ([]action.PendingApproval, error) {
	return q.store.GetExpiredApprovals(ctx, now)
}

// Stats summarizes the queue at the given instant.
type Stats struct {
	Total          int            `json:"total"`
	BySource       map[string]int `json:"by_source"`
	ByRiskLevel    map[string]int `json:"by_risk_level"`
	OldestQueuedAt *time.Time     `json:"oldest_queued_at,omitempty"`
	ExpiredCount   int            `json:"expired_count"`
}

// Stats computes queue statistics. It is a pure read: expired items are
// counted, not removed.
func (q *Queue) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	pending, err := q.store.GetPendingApprovals(ctx)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}

	s := &Stats{
		Total:       len(pending),
		BySource:    make(map[string]int),
		ByRiskLevel: make(map[string]int),
	}
	for i := range pending {
		p := &pending[i]
		s.BySource[p.Source]++
		s.ByRiskLevel[string(p.RiskTier)]++
		if p.Expired(now) {
			s.ExpiredCount++
		}
		if s.OldestQueuedAt == nil || p.QueuedAt.Before(*s.OldestQueuedAt) {
			t := p.QueuedAt
			s.OldestQueuedAt = &t
		}
	}
	return s, nil
}

// HighestRiskLevel returns the highest tier among queued items, or
// ("", false) when the queue is empty.
func (q *Queue) HighestRiskLevel(ctx context.Context) (risk.Tier, bool, error) {
	pending, err := q.store.GetPendingApprovals(ctx)
	if err != nil {
		return "", false, fmt.Errorf("HighestRiskLevel: %w", err)
	}
	if len(pending) == 0 {
		return "", false, nil
	}
	highest := pending[0].RiskTier
	for _, p := range pending[1:] {
		highest = risk.Max(highest, p.RiskTier)
	}
	return highest, true, nil
}
