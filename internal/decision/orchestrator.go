// Package decision wires the validator, rule engine and approval queue into
// the single entry point that takes a proposed action to a terminal outcome:
// decided immediately, or parked for manual review.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/alert"
	"github.com/tollgate-ai/tollgate/internal/notify"
	"github.com/tollgate-ai/tollgate/internal/queue"
	"github.com/tollgate-ai/tollgate/internal/risk"
	"github.com/tollgate-ai/tollgate/internal/rules"
	"github.com/tollgate-ai/tollgate/internal/storage"
	"github.com/tollgate-ai/tollgate/internal/store"
	"github.com/tollgate-ai/tollgate/internal/validator"
)

// Config holds orchestrator tunables.
type Config struct {
	// DefaultTimeout is applied to queued approvals; zero means no expiry.
	DefaultTimeout time.Duration
	// ValidatorFailOpen lets actions through when the validator errors.
	// Default is fail-closed: a validator error rejects the action.
	ValidatorFailOpen bool
}

// Outcome is the result of processing one action: exactly one of Decision
// and Pending is set.
type Outcome struct {
	Decision *action.Decision        `json:"decision,omitempty"`
	Pending  *action.PendingApproval `json:"pending,omitempty"`
}

// Orchestrator runs the decision pipeline: validate, check trusted-origin
// bypass, evaluate rules, then finalize or enqueue.
type Orchestrator struct {
	validator validator.Validator
	engine    *rules.Engine
	queue     *queue.Queue
	store     store.Store
	notifier  notify.Notifier
	events    storage.EventWriter
	alerts    *alert.Dispatcher
	cfg       Config
	logger    *zap.Logger

	now func() time.Time // swappable in tests
}

func NewOrchestrator(
	v validator.Validator,
	engine *rules.Engine,
	q *queue.Queue,
	st store.Store,
	notifier notify.Notifier,
	events storage.EventWriter,
	alerts *alert.Dispatcher,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		validator: v,
		engine:    engine,
		queue:     q,
		store:     st,
		notifier:  notifier,
		events:    events,
		alerts:    alerts,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Process takes a proposed action through the pipeline. The returned Outcome
// carries either a terminal Decision or the PendingApproval now queued.
func (o *Orchestrator) Process(ctx context.Context, a *action.Action, rc *action.RequestContext) (*Outcome, error) {
	out, err := o.process(ctx, a, rc)
	if err != nil {
		return nil, err
	}
	if out.Pending != nil {
		o.refreshBadge(ctx)
	}
	return out, nil
}

// BatchItem pairs an action with its request context for batch processing.
type BatchItem struct {
	Action  *action.Action
	Context *action.RequestContext
}

// ProcessBatch processes actions sequentially in order. Per-item failures
// abort the batch; the badge is refreshed once at the end.
func (o *Orchestrator) ProcessBatch(ctx context.Context, items []BatchItem) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(items))
	queued := false
	for i, item := range items {
		out, err := o.process(ctx, item.Action, item.Context)
		if err != nil {
			return nil, fmt.Errorf("ProcessBatch: item %d: %w", i, err)
		}
		if out.Pending != nil {
			queued = true
		}
		outcomes = append(outcomes, *out)
	}
	if queued {
		o.refreshBadge(ctx)
	}
	return outcomes, nil
}

func (o *Orchestrator) process(ctx context.Context, a *action.Action, rc *action.RequestContext) (*Outcome, error) {
	start := o.now()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Status = action.StatusProposed

	// Step 1: safety validation. An unsafe action is rejected outright;
	// rules are never consulted for it.
	res, err := o.validator.Validate(ctx, a.Description, actionArguments(a))
	if err != nil {
		if !o.cfg.ValidatorFailOpen {
			dec := o.autoDecision(action.DecisionReject, "", "safety validation unavailable")
			return o.finalize(ctx, a, declaredTier(a), dec, true, start)
		}
		o.logger.Warn("validator error, continuing fail-open",
			zap.String("action_id", a.ID),
			zap.Error(err),
		)
	} else {
		a.Validation = res
		if !res.Safe() {
			dec := o.autoDecision(action.DecisionReject, "", "failed safety validation: "+res.Reason())
			return o.finalize(ctx, a, declaredTier(a), dec, true, start)
		}
	}

	// Step 2: trusted origins with a capability that does not require
	// approval bypass rule evaluation entirely.
	if rc != nil && rc.TrustedOrigin && rc.Capability != nil && !rc.Capability.RequiresApproval {
		dec := o.autoDecision(action.DecisionApprove, "",
			fmt.Sprintf("trusted origin, capability %q does not require approval", rc.Capability.Name))
		return o.finalize(ctx, a, declaredTier(a), dec, false, start)
	}

	// Step 3: rule evaluation.
	verdict, err := o.engine.Evaluate(ctx, a, rc)
	if err != nil {
		return nil, fmt.Errorf("Process: %w", err)
	}

	switch verdict.Disposition {
	case rules.DispositionAutoApprove:
		dec := o.autoDecision(action.DecisionApprove, verdict.MatchedRuleID, verdict.Reason)
		return o.finalize(ctx, a, verdict.RiskTier, dec, false, start)

	case rules.DispositionAutoReject:
		dec := o.autoDecision(action.DecisionReject, verdict.MatchedRuleID, verdict.Reason)
		return o.finalize(ctx, a, verdict.RiskTier, dec, true, start)

	default: // require_approval
		return o.enqueue(ctx, a, verdict)
	}
}

func (o *Orchestrator) autoDecision(d action.DecisionDisposition, ruleID, reason string) *action.Decision {
	return &action.Decision{
		Disposition:   d,
		Method:        action.MethodAuto,
		MatchedRuleID: ruleID,
		Reason:        reason,
		Timestamp:     o.now(),
	}
}

// finalize applies a terminal decision: records history, emits the
// analytics event, and dispatches an alert when alerting is requested.
func (o *Orchestrator) finalize(ctx context.Context, a *action.Action, tier risk.Tier, dec *action.Decision, alerting bool, start time.Time) (*Outcome, error) {
	if dec.Disposition == action.DecisionReject {
		a.Status = action.StatusRejected
	} else {
		a.Status = action.StatusApproved
	}

	entry := &action.HistoryEntry{
		ID:          uuid.New().String(),
		Source:      a.SourceTag(),
		Action:      *a,
		RiskTier:    tier,
		Decision:    *dec,
		ProcessedAt: o.now(),
	}
	if err := o.store.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}

	o.writeEvent(a, tier, dec, start)
	o.logger.Info("action decided",
		zap.String("action_id", a.ID),
		zap.String("disposition", string(dec.Disposition)),
		zap.String("method", string(dec.Method)),
		zap.String("risk_tier", string(tier)),
		zap.String("matched_rule_id", dec.MatchedRuleID),
	)

	if alerting && dec.Disposition == action.DecisionReject {
		o.dispatchAlert("auto_reject", string(tier), dec.Reason, a)
	}
	return &Outcome{Decision: dec}, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, a *action.Action, verdict *rules.Verdict) (*Outcome, error) {
	now := o.now()
	a.Status = action.StatusPending

	p := &action.PendingApproval{
		ID:       uuid.New().String(),
		Source:   a.SourceTag(),
		Action:   *a,
		RiskTier: verdict.RiskTier,
		QueuedAt: now,
	}
	if o.cfg.DefaultTimeout > 0 {
		p.ExpiresAt = now.Add(o.cfg.DefaultTimeout)
	}
	if err := o.queue.Enqueue(ctx, p); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	o.notifier.Notify(
		"Approval required",
		fmt.Sprintf("%s (%s risk): %s", a.Name(), verdict.RiskTier, a.Description),
		notify.Options{RequireInteraction: verdict.RiskTier != risk.TierLow},
	)
	return &Outcome{Pending: p}, nil
}

// DecidePending applies a manual decision to a queued approval. Returns
// (nil, nil) without side effects when the item is not queued, so a race
// between two reviewers resolves to one winner.
func (o *Orchestrator) DecidePending(ctx context.Context, id string, disposition action.DecisionDisposition, reason string, modifiedArgs map[string]any) (*action.HistoryEntry, error) {
	start := o.now()
	p, err := o.store.GetPendingApproval(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("DecidePending: %w", err)
	}
	if p == nil {
		return nil, nil
	}

	a := p.Action
	dec := action.Decision{
		Disposition: disposition,
		Method:      action.MethodManual,
		Reason:      reason,
		Timestamp:   o.now(),
	}

	switch disposition {
	case action.DecisionModify:
		if a.Tool == nil {
			return nil, fmt.Errorf("DecidePending: modify applies only to tool calls")
		}
		if err := validator.ValidateArguments(modifiedArgs, a.Tool.ArgumentSchema); err != nil {
			return nil, fmt.Errorf("DecidePending: modified arguments rejected: %w", err)
		}
		a.Tool.Arguments = modifiedArgs
		dec.ModifiedArguments = modifiedArgs
		a.Status = action.StatusApproved
	case action.DecisionApprove:
		a.Status = action.StatusApproved
	case action.DecisionReject:
		a.Status = action.StatusRejected
	default:
		return nil, fmt.Errorf("DecidePending: unknown disposition %q", disposition)
	}

	entry := &action.HistoryEntry{
		ID:          uuid.New().String(),
		Source:      p.Source,
		Action:      a,
		RiskTier:    p.RiskTier,
		Decision:    dec,
		ProcessedAt: o.now(),
	}
	found, err := o.store.FinalizePending(ctx, id, entry)
	if err != nil {
		return nil, fmt.Errorf("DecidePending: %w", err)
	}
	if !found {
		return nil, nil
	}

	o.writeEvent(&a, p.RiskTier, &dec, start)
	o.logger.Info("pending approval decided",
		zap.String("pending_id", id),
		zap.String("disposition", string(disposition)),
		zap.String("risk_tier", string(p.RiskTier)),
	)
	o.refreshBadge(ctx)
	return entry, nil
}

// ProcessExpiredApprovals sweeps the queue, rejecting every item whose
// deadline has passed. Idempotent: items another sweep already finalized
// are skipped. Returns the number of items it expired.
func (o *Orchestrator) ProcessExpiredApprovals(ctx context.Context) (int, error) {
	now := o.now()
	expired, err := o.queue.Expired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("ProcessExpiredApprovals: %w", err)
	}

	count := 0
	for i := range expired {
		p := &expired[i]
		a := p.Action
		a.Status = action.StatusRejected
		dec := action.Decision{
			Disposition: action.DecisionReject,
			Method:      action.MethodAuto,
			Reason:      "timed out",
			Timestamp:   now,
		}
		entry := &action.HistoryEntry{
			ID:          uuid.New().String(),
			Source:      p.Source,
			Action:      a,
			RiskTier:    p.RiskTier,
			Decision:    dec,
			ProcessedAt: now,
		}
		found, err := o.store.FinalizePending(ctx, p.ID, entry)
		if err != nil {
			return count, fmt.Errorf("ProcessExpiredApprovals: %w", err)
		}
		if !found {
			continue
		}
		count++
		o.writeEvent(&a, p.RiskTier, &dec, now)
		o.dispatchAlert("approval_expired", string(p.RiskTier),
			fmt.Sprintf("approval %s timed out after %s in queue", p.ID, now.Sub(p.QueuedAt)), &a)
	}

	if count > 0 {
		o.logger.Info("expired approvals rejected", zap.Int("count", count))
		o.refreshBadge(ctx)
	}
	return count, nil
}

// refreshBadge recomputes the badge from current queue state.
func (o *Orchestrator) refreshBadge(ctx context.Context) {
	highest, ok, err := o.queue.HighestRiskLevel(ctx)
	if err != nil {
		o.logger.Warn("badge refresh failed", zap.Error(err))
		return
	}
	if !ok {
		o.notifier.ClearBadge()
		return
	}
	pending, err := o.queue.List(ctx)
	if err != nil {
		o.logger.Warn("badge refresh failed", zap.Error(err))
		return
	}
	o.notifier.SetBadgeCount(len(pending), notify.BadgeColor(highest))
}

func (o *Orchestrator) writeEvent(a *action.Action, tier risk.Tier, dec *action.Decision, start time.Time) {
	argsJSON := ""
	if a.Tool != nil && a.Tool.Arguments != nil {
		if b, err := json.Marshal(a.Tool.Arguments); err == nil {
			argsJSON = string(b)
		}
	}
	ev := &storage.DecisionEvent{
		RequestID:     uuid.New().String(),
		ActionID:      a.ID,
		Timestamp:     o.now(),
		Kind:          string(a.Kind),
		Source:        a.SourceTag(),
		Description:   storage.TruncateDescription(a.Description, storage.DescriptionPreviewLength),
		ToolName:      toolNameOf(a),
		AgentID:       agentIDOf(a),
		ArgumentsJSON: argsJSON,
		RiskTier:      string(tier),
		Disposition:   string(dec.Disposition),
		Method:        string(dec.Method),
		MatchedRuleID: dec.MatchedRuleID,
		Reason:        dec.Reason,
		IsDefault:     dec.Method == action.MethodAuto && dec.MatchedRuleID == "",
		LatencyMs:     float32(o.now().Sub(start).Seconds() * 1000),
	}
	o.events.Write(ev)
}

func (o *Orchestrator) dispatchAlert(alertType, severity, message string, a *action.Action) {
	if o.alerts == nil {
		return
	}
	o.alerts.Dispatch(&alert.Payload{
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		Timestamp: o.now(),
		Context: map[string]string{
			"action_id": a.ID,
			"kind":      string(a.Kind),
			"name":      a.Name(),
		},
	})
}

// declaredTier normalizes a missing or invalid declared tier to medium,
// matching the scorer's unknown-tier baseline.
func declaredTier(a *action.Action) risk.Tier {
	if a.DeclaredRisk.Valid() {
		return a.DeclaredRisk
	}
	return risk.TierMedium
}

func actionArguments(a *action.Action) map[string]any {
	if a.Tool != nil {
		return a.Tool.Arguments
	}
	return nil
}

func toolNameOf(a *action.Action) string {
	if a.Tool != nil {
		return a.Tool.ToolName
	}
	return ""
}

func agentIDOf(a *action.Action) string {
	if a.Agent != nil {
		return a.Agent.AgentID
	}
	return ""
}
