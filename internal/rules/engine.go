package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/tollgate-ai/tollgate/internal/action"
	"github.com/tollgate-ai/tollgate/internal/risk"
	"go.uber.org/zap"
)

// RuleSource provides the enabled rule set. Implementations return rules
// ordered by descending priority; the engine re-sorts defensively so the
// tie-break stays deterministic regardless of backing store.
type RuleSource interface {
	GetEnabledRules(ctx context.Context) ([]Rule, error)
}

// Verdict is the outcome of evaluating an action against the rule set.
type Verdict struct {
	Disposition     Disposition
	MatchedRuleID   string
	MatchedRuleName string
	Reason          string
	IsDefault       bool
	RiskTier        risk.Tier
}

// Engine evaluates actions against the ordered rule list and falls back to a
// risk-tier default when nothing matches. Pure with respect to the action:
// it never mutates what it evaluates.
type Engine struct {
	source RuleSource
	scorer *risk.Scorer
	logger *zap.Logger
}

func NewEngine(source RuleSource, scorer *risk.Scorer, logger *zap.Logger) *Engine {
	return &Engine{
		source: source,
		scorer: scorer,
		logger: logger,
	}
}

// Evaluate fetches the enabled rules (fresh on every call, never cached) and
// returns the first matching rule's disposition, or the risk-tier default.
func (e *Engine) Evaluate(ctx context.Context, a *action.Action, rc *action.RequestContext) (*Verdict, error) {
	scored := e.scorer.Score(action.ScoreInputFor(a, rc))

	enabled, err := e.source.GetEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("Evaluate: %w", err)
	}
	sortRules(enabled)

	for i := range enabled {
		r := &enabled[i]
		if !r.Enabled {
			continue
		}
		if !e.matches(r, a, rc, scored) {
			continue
		}
		reason := r.Reason
		if reason == "" {
			reason = fmt.Sprintf("matched rule %q", r.Name)
		}
		return &Verdict{
			Disposition:     r.Disposition,
			MatchedRuleID:   r.ID,
			MatchedRuleName: r.Name,
			Reason:          reason,
			RiskTier:        scored,
		}, nil
	}

	// No rule matched. The fallback tier takes the worse of the declared
	// and computed tiers so a declared-critical action can never slip to
	// auto-approve through a trust discount.
	fallbackTier := scored
	if a.DeclaredRisk.Valid() {
		fallbackTier = risk.Max(a.DeclaredRisk, scored)
	}
	return &Verdict{
		Disposition: DefaultDisposition(fallbackTier),
		Reason:      defaultReason(fallbackTier),
		IsDefault:   true,
		RiskTier:    fallbackTier,
	}, nil
}

// matches reports whether every condition holds. Empty condition lists match
// unconditionally; evaluation short-circuits on the first false condition.
func (e *Engine) matches(r *Rule, a *action.Action, rc *action.RequestContext, tier risk.Tier) bool {
	for i := range r.Conditions {
		if !e.evalCondition(&r.Conditions[i], a, rc, tier) {
			return false
		}
	}
	return true
}

// sortRules orders by descending priority, breaking ties by creation time
// then ID so equal-priority rules evaluate in a stable, documented order.
func sortRules(rs []Rule) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Priority != rs[j].Priority {
			return rs[i].Priority > rs[j].Priority
		}
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
