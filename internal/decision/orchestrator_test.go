package decision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/notify"
	"github.com/tollgate-ai/tollgate/internal/queue"
	"github.com/tollgate-ai/tollgate/internal/risk"
	"github.com/tollgate-ai/tollgate/internal/rules"
	"github.com/tollgate-ai/tollgate/internal/storage"
	"github.com/tollgate-ai/tollgate/internal/store"
	"github.com/tollgate-ai/tollgate/internal/validator"
)

// stubValidator returns a fixed result or error.
type stubValidator struct {
	result *validator.Result
	err    error
}

func (v *stubValidator) Validate(ctx context.Context, description string, args map[string]any) (*validator.Result, error) {
	if v.err != nil {
		return nil, v.err
	}
	if v.result != nil {
		return v.result, nil
	}
	return &validator.Result{InjectionSafe: true, DestructiveSafe: true, PathSafe: true, ExfiltrationSafe: true}, nil
}

// recordingNotifier captures badge updates and notifications.
type recordingNotifier struct {
	mu            sync.Mutex
	badgeCount    int
	badgeColor    string
	badgeCleared  bool
	notifications []string
}

func (n *recordingNotifier) SetBadgeCount(count int, color string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.badgeCount = count
	n.badgeColor = color
	n.badgeCleared = false
}

func (n *recordingNotifier) ClearBadge() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.badgeCount = 0
	n.badgeCleared = true
}

func (n *recordingNotifier) Notify(title, message string, opts notify.Options) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, title)
}

type testHarness struct {
	orch     *Orchestrator
	store    *store.MemoryStore
	notifier *recordingNotifier
	now      time.Time
}

func newHarness(t *testing.T, v validator.Validator, cfg Config) *testHarness {
	t.Helper()
	st := store.NewMemoryStore()
	logger := zap.NewNop()
	engine := rules.NewEngine(st, risk.NewScorer(), logger)
	q := queue.New(st, logger)
	notifier := &recordingNotifier{}
	events := storage.NewLogWriter(logger)

	h := &testHarness{
		store:    st,
		notifier: notifier,
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.orch = NewOrchestrator(v, engine, q, st, notifier, events, nil, cfg, logger)
	h.orch.now = func() time.Time { return h.now }
	return h
}

func safeValidator() *stubValidator { return &stubValidator{} }

func toolCall(name string, declared risk.Tier) *action.Action {
	return &action.Action{
		Kind:         action.KindToolCall,
		Description:  "call " + name,
		DeclaredRisk: declared,
		Tool:         &action.ToolCallDetails{ServerID: "srv-1", ToolName: name},
	}
}

func TestProcessAutoApprovesTrustedLowRisk(t *testing.T) {
	h := newHarness(t, safeValidator(), Config{})
	ctx := context.Background()
	if err := h.store.SeedDefaultRules(ctx, rules.DefaultRules()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	a := toolCall("get_info", risk.TierLow)
	rc := &action.RequestContext{TrustedOrigin: true, TrustLevel: 90}

	out, err := h.orch.Process(ctx, a, rc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Decision == nil || out.Pending != nil {
		t.Fatalf("want terminal decision, got %+v", out)
	}
	if out.Decision.Disposition != action.DecisionApprove {
		t.Errorf("Disposition = %s, want approve", out.Decision.Disposition)
	}
	if out.Decision.Method != action.MethodAuto {
		t.Errorf("Method = %s, want auto", out.Decision.Method)
	}
	if out.Decision.MatchedRuleID == "" {
		t.Error("expected a matched rule, got default")
	}

	history, _ := h.store.GetRecentHistory(ctx, 10)
	if len(history) != 1 {
		t.Fatalf("history = %d entries, want 1", len(history))
	}
	if history[0].Action.Status != action.StatusApproved {
		t.Errorf("recorded status = %s, want approved", history[0].Action.Status)
	}
}

func TestProcessAutoRejectsCriticalByDefault(t *testing.T) {
	h := newHarness(t, safeValidator(), Config{})
	ctx := context.Background()

	// No rules seeded: a critical-tier action falls to the default reject.
	a := toolCall("drain_wallet", risk.TierCritical)
	out, err := h.orch.Process(ctx, a, &action.RequestContext{TrustLevel: 10})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Decision == nil || out.Decision.Disposition != action.DecisionReject {
		t.Fatalf("want auto-reject, got %+v", out)
	}
	if out.Decision.MatchedRuleID != "" {
		t.Errorf("default rejection should have no matched rule, got %q", out.Decision.MatchedRuleID)
	}
}

func TestProcessRejectsUnsafeWithoutConsultingRules(t *testing.T) {
	unsafe := &stubValidator{result: &validator.Result{
		InjectionSafe:    false,
		DestructiveSafe:  true,
		PathSafe:         true,
		ExfiltrationSafe: true,
		Issues:           []string{"injection pattern"},
	}}
	h := newHarness(t, unsafe, Config{})
	ctx := context.Background()

	// This rule would approve everything; an unsafe action must not reach it.
	approveAll := &rules.Rule{
		Name:        "approve everything",
		Priority:    1000,
		Enabled:     true,
		Disposition: rules.DispositionAutoApprove,
	}
	if err := h.store.CreateRule(ctx, approveAll); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	out, err := h.orch.Process(ctx, toolCall("get_info", risk.TierLow), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Decision == nil || out.Decision.Disposition != action.DecisionReject {
		t.Fatalf("want reject, got %+v", out)
	}
	if out.Decision.MatchedRuleID != "" {
		t.Errorf("validation reject consulted rules: matched %q", out.Decision.MatchedRuleID)
	}
}

func TestProcessValidatorErrorFailPolicy(t *testing.T) {
	broken := &stubValidator{err: errors.New("validator down")}
	ctx := context.Background()

	closed := newHarness(t, broken, Config{})
	out, err := closed.orch.Process(ctx, toolCall("get_info", risk.TierLow), nil)
	if err != nil {
		t.Fatalf("Process (fail-closed): %v", err)
	}
	if out.Decision == nil || out.Decision.Disposition != action.DecisionReject {
		t.Fatalf("fail-closed: want reject, got %+v", out)
	}

	open := newHarness(t, broken, Config{ValidatorFailOpen: true})
	if err := open.store.SeedDefaultRules(ctx, rules.DefaultRules()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	out, err = open.orch.Process(ctx, toolCall("get_info", risk.TierLow),
		&action.RequestContext{TrustedOrigin: true, TrustLevel: 90})
	if err != nil {
		t.Fatalf("Process (fail-open): %v", err)
	}
	if out.Decision == nil || out.Decision.Disposition != action.DecisionApprove {
		t.Fatalf("fail-open: want approve, got %+v", out)
	}
}

func TestProcessTrustedCapabilityBypass(t *testing.T) {
	h := newHarness(t, safeValidator(), Config{})
	ctx := context.Background()

	a := toolCall("send_funds", risk.TierHigh)
	rc := &action.RequestContext{
		TrustedOrigin: true,
		TrustLevel:    100,
		Capability:    &action.Capability{Name: "payments", RequiresApproval: false},
	}
	out, err := h.orch.Process(ctx, a, rc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Decision == nil || out.Decision.Disposition != action.DecisionApprove {
		t.Fatalf("want bypass approve, got %+v", out)
	}

	// Same capability but requiring approval goes through the pipeline.
	rc.Capability.RequiresApproval = true
	out, err = h.orch.Process(ctx, toolCall("send_funds", risk.TierHigh), rc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Pending == nil {
		t.Fatalf("want queued approval, got %+v", out)
	}
}

func TestProcessQueuesAndExpires(t *testing.T) {
	h := newHarness(t, safeValidator(), Config{DefaultTimeout: 5 * time.Minute})
	ctx := context.Background()

	a := toolCall("transfer_assets", risk.TierHigh)
	out, err := h.orch.Process(ctx, a, &action.RequestContext{TrustedOrigin: true, TrustLevel: 90})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Pending == nil || out.Decision != nil {
		t.Fatalf("want pending outcome, got %+v", out)
	}
	if !out.Pending.ExpiresAt.Equal(h.now.Add(5 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want now+5m", out.Pending.ExpiresAt)
	}
	if h.notifier.badgeCount != 1 {
		t.Errorf("badge count = %d, want 1", h.notifier.badgeCount)
	}
	if h.notifier.badgeColor != notify.ColorOrange {
		t.Errorf("badge color = %s, want orange for high tier", h.notifier.badgeColor)
	}
	if len(h.notifier.notifications) != 1 {
		t.Errorf("notifications = %d, want 1", len(h.notifier.notifications))
	}

	// Before the deadline the sweep is a no-op.
	h.now = h.now.Add(4 * time.Minute)
	n, err := h.orch.ProcessExpiredApprovals(ctx)
	if err != nil {
		t.Fatalf("ProcessExpiredApprovals: %v", err)
	}
	if n != 0 {
		t.Fatalf("expired %d before deadline, want 0", n)
	}

	// Past the deadline the item is rejected exactly once.
	h.now = h.now.Add(2 * time.Minute)
	n, err = h.orch.ProcessExpiredApprovals(ctx)
	if err != nil {
		t.Fatalf("ProcessExpiredApprovals: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}

	pending, _ := h.store.GetPendingApprovals(ctx)
	history, _ := h.store.GetRecentHistory(ctx, 10)
	if len(pending) != 0 || len(history) != 1 {
		t.Fatalf("pending=%d history=%d, want 0/1", len(pending), len(history))
	}
	if history[0].Decision.Reason != "timed out" {
		t.Errorf("reason = %q, want timed out", history[0].Decision.Reason)
	}
	if !h.notifier.badgeCleared {
		t.Error("badge not cleared after queue drained")
	}

	// A second sweep finds nothing.
	n, err = h.orch.ProcessExpiredApprovals(ctx)
	if err != nil {
		t.Fatalf("ProcessExpiredApprovals (repeat): %v", err)
	}
	if n != 0 {
		t.Errorf("repeat sweep expired %d, want 0", n)
	}
}

func TestDecidePending(t *testing.T) {
	h := newHarness(t, safeValidator(), Config{})
	ctx := context.Background()

	out, err := h.orch.Process(ctx, toolCall("update_config", risk.TierMedium),
		&action.RequestContext{TrustLevel: 50})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Pending == nil {
		t.Fatalf("want pending, got %+v", out)
	}

	entry, err := h.orch.DecidePending(ctx, out.Pending.ID, action.DecisionApprove, "looks fine", nil)
	if err != nil {
		t.Fatalf("DecidePending: %v", err)
	}
	if entry == nil {
		t.Fatal("DecidePending returned nil for queued item")
	}
	if entry.Decision.Method != action.MethodManual {
		t.Errorf("Method = %s, want manual", entry.Decision.Method)
	}
	if entry.Action.Status != action.StatusApproved {
		t.Errorf("Status = %s, want approved", entry.Action.Status)
	}

	// Second decision on the same item is a clean miss.
	entry, err = h.orch.DecidePending(ctx, out.Pending.ID, action.DecisionReject, "", nil)
	if err != nil {
		t.Fatalf("DecidePending (repeat): %v", err)
	}
	if entry != nil {
		t.Error("repeat decision should miss")
	}
	history, _ := h.store.GetRecentHistory(ctx, 10)
	if len(history) != 1 {
		t.Errorf("history = %d entries, want 1", len(history))
	}
}

func TestDecidePendingModifyValidatesArguments(t *testing.T) {
	h := newHarness(t, safeValidator(), Config{})
	ctx := context.Background()

	a := toolCall("update_config", risk.TierMedium)
	a.Tool.Arguments = map[string]any{"key": "timeout", "value": "30"}
	a.Tool.ArgumentSchema = map[string]any{
		"type":     "object",
		"required": []any{"key", "value"},
		"properties": map[string]any{
			"key":   map[string]any{"type": "string"},
			"value": map[string]any{"type": "string"},
		},
	}
	out, err := h.orch.Process(ctx, a, &action.RequestContext{TrustLevel: 50})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Pending == nil {
		t.Fatalf("want pending, got %+v", out)
	}

	// Arguments missing a required key are rejected; the item stays queued.
	_, err = h.orch.DecidePending(ctx, out.Pending.ID, action.DecisionModify, "trim",
		map[string]any{"key": "timeout"})
	if err == nil {
		t.Fatal("modify with schema-invalid arguments should fail")
	}
	pending, _ := h.store.GetPendingApprovals(ctx)
	if len(pending) != 1 {
		t.Fatalf("pending = %d after failed modify, want 1", len(pending))
	}

	entry, err := h.orch.DecidePending(ctx, out.Pending.ID, action.DecisionModify, "trim",
		map[string]any{"key": "timeout", "value": "60"})
	if err != nil {
		t.Fatalf("DecidePending (valid modify): %v", err)
	}
	if entry == nil {
		t.Fatal("valid modify returned nil")
	}
	if entry.Action.Tool.Arguments["value"] != "60" {
		t.Errorf("modified arguments not applied: %v", entry.Action.Tool.Arguments)
	}
	if entry.Decision.Disposition != action.DecisionModify {
		t.Errorf("Disposition = %s, want modify", entry.Decision.Disposition)
	}
}

func TestProcessBatchMixedOutcomes(t *testing.T) {
	h := newHarness(t, safeValidator(), Config{})
	ctx := context.Background()
	if err := h.store.SeedDefaultRules(ctx, rules.DefaultRules()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	trusted := &action.RequestContext{TrustedOrigin: true, TrustLevel: 90}
	items := []BatchItem{
		{Action: toolCall("get_info", risk.TierLow), Context: trusted},
		{Action: toolCall("drain_wallet", risk.TierCritical), Context: &action.RequestContext{TrustLevel: 10}},
		{Action: toolCall("update_config", risk.TierMedium), Context: &action.RequestContext{TrustLevel: 50}},
	}
	outcomes, err := h.orch.ProcessBatch(ctx, items)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	if outcomes[0].Decision == nil || outcomes[0].Decision.Disposition != action.DecisionApprove {
		t.Errorf("item 0: want approve, got %+v", outcomes[0])
	}
	if outcomes[1].Decision == nil || outcomes[1].Decision.Disposition != action.DecisionReject {
		t.Errorf("item 1: want reject, got %+v", outcomes[1])
	}
	if outcomes[2].Pending == nil {
		t.Errorf("item 2: want pending, got %+v", outcomes[2])
	}
	if h.notifier.badgeCount != 1 {
		t.Errorf("badge count = %d, want 1", h.notifier.badgeCount)
	}
}
