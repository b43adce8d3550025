package store

import (
	"context"
	"testing"
	"time"

	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/risk"
	"github.com/tollgate-ai/tollgate/internal/rules"
)

func TestMemoryStoreRuleOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	m.nowFunc = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	// Created in this order: b (prio 5), a (prio 10), c (prio 5), disabled (prio 99).
	mustCreate := func(id string, priority int, enabled bool) {
		t.Helper()
		err := m.CreateRule(ctx, &rules.Rule{
			ID:          id,
			Name:        id,
			Priority:    priority,
			Enabled:     enabled,
			Disposition: rules.DispositionRequireApproval,
		})
		if err != nil {
			t.Fatalf("CreateRule(%s): %v", id, err)
		}
	}
	mustCreate("b", 5, true)
	mustCreate("a", 10, true)
	mustCreate("c", 5, true)
	mustCreate("d", 99, false)

	got, err := m.GetEnabledRules(ctx)
	if err != nil {
		t.Fatalf("GetEnabledRules: %v", err)
	}
	want := []string{"a", "b", "c"} // priority desc, then creation order
	if len(got) != len(want) {
		t.Fatalf("got %d rules, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("rule[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestMemoryStoreSeedOnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	seed := rules.DefaultRules()
	if err := m.SeedDefaultRules(ctx, seed); err != nil {
		t.Fatalf("SeedDefaultRules: %v", err)
	}
	all, _ := m.GetAllRules(ctx)
	if len(all) != len(seed) {
		t.Fatalf("got %d rules after seed, want %d", len(all), len(seed))
	}

	// Operator deletes one; a second seed must not resurrect it.
	if err := m.DeleteRule(ctx, all[0].ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if err := m.SeedDefaultRules(ctx, seed); err != nil {
		t.Fatalf("SeedDefaultRules (second): %v", err)
	}
	all, _ = m.GetAllRules(ctx)
	if len(all) != len(seed)-1 {
		t.Errorf("second seed re-inserted rules: got %d, want %d", len(all), len(seed)-1)
	}
}

func TestMemoryStoreUpdateRulePartial(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	r := &rules.Rule{Name: "original", Priority: 5, Enabled: true, Disposition: rules.DispositionAutoApprove}
	if err := m.CreateRule(ctx, r); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	newPriority := 50
	updated, err := m.UpdateRule(ctx, r.ID, UpdateRuleParams{Priority: &newPriority})
	if err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if updated == nil {
		t.Fatal("UpdateRule returned nil for existing rule")
	}
	if updated.Priority != 50 {
		t.Errorf("Priority = %d, want 50", updated.Priority)
	}
	if updated.Name != "original" {
		t.Errorf("Name changed to %q, want untouched", updated.Name)
	}

	missing, err := m.UpdateRule(ctx, "no-such-rule", UpdateRuleParams{Priority: &newPriority})
	if err != nil {
		t.Fatalf("UpdateRule (missing): %v", err)
	}
	if missing != nil {
		t.Error("UpdateRule on missing rule should return nil")
	}
}

func TestMemoryStoreFinalizePending(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	p := &action.PendingApproval{
		ID:       "pend-1",
		Source:   "mcp",
		RiskTier: risk.TierHigh,
		Action:   action.Action{ID: "act-1", Kind: action.KindToolCall},
		QueuedAt: time.Now(),
	}
	if err := m.AddPendingApproval(ctx, p); err != nil {
		t.Fatalf("AddPendingApproval: %v", err)
	}

	entry := &action.HistoryEntry{
		ID:       "hist-1",
		Source:   p.Source,
		RiskTier: p.RiskTier,
		Action:   p.Action,
		Decision: action.Decision{
			Disposition: action.DecisionApprove,
			Method:      action.MethodManual,
		},
		ProcessedAt: time.Now(),
	}

	found, err := m.FinalizePending(ctx, "pend-1", entry)
	if err != nil {
		t.Fatalf("FinalizePending: %v", err)
	}
	if !found {
		t.Fatal("FinalizePending returned found=false for queued item")
	}

	pending, _ := m.GetPendingApprovals(ctx)
	history, _ := m.GetRecentHistory(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("pending queue has %d items after finalize, want 0", len(pending))
	}
	if len(history) != 1 {
		t.Fatalf("history has %d entries after finalize, want 1", len(history))
	}

	// Second finalize of the same ID touches nothing.
	found, err = m.FinalizePending(ctx, "pend-1", entry)
	if err != nil {
		t.Fatalf("FinalizePending (repeat): %v", err)
	}
	if found {
		t.Error("repeat FinalizePending returned found=true")
	}
	history, _ = m.GetRecentHistory(ctx, 10)
	if len(history) != 1 {
		t.Errorf("repeat finalize appended history: got %d entries, want 1", len(history))
	}
}

func TestMemoryStoreExpiredApprovals(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	add := func(id string, expiresAt time.Time) {
		t.Helper()
		err := m.AddPendingApproval(ctx, &action.PendingApproval{
			ID:        id,
			QueuedAt:  now.Add(-time.Hour),
			ExpiresAt: expiresAt,
		})
		if err != nil {
			t.Fatalf("AddPendingApproval(%s): %v", id, err)
		}
	}
	add("expired", now.Add(-time.Minute))
	add("alive", now.Add(time.Minute))
	add("never", time.Time{}) // no deadline

	got, err := m.GetExpiredApprovals(ctx, now)
	if err != nil {
		t.Fatalf("GetExpiredApprovals: %v", err)
	}
	if len(got) != 1 || got[0].ID != "expired" {
		t.Fatalf("GetExpiredApprovals = %+v, want only 'expired'", got)
	}
}

func TestMemoryStoreClients(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	c, key, err := m.CreateClient(ctx, "ci-runner")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if len(key) < 8 || key[:4] != "agk_" {
		t.Errorf("key %q does not have agk_ prefix", key)
	}
	if c.KeyPrefix != key[:8] {
		t.Errorf("KeyPrefix = %q, want %q", c.KeyPrefix, key[:8])
	}

	found, err := m.LookupClientByPrefix(ctx, c.KeyPrefix)
	if err != nil {
		t.Fatalf("LookupClientByPrefix: %v", err)
	}
	if found == nil || found.ID != c.ID {
		t.Errorf("LookupClientByPrefix = %+v, want client %s", found, c.ID)
	}

	missing, err := m.LookupClientByPrefix(ctx, "agk_none")
	if err != nil {
		t.Fatalf("LookupClientByPrefix (missing): %v", err)
	}
	if missing != nil {
		t.Error("lookup of unknown prefix should return nil")
	}
}
