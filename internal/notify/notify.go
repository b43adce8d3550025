// Package notify surfaces queue state to operators: a badge showing the
// pending count colored by the highest risk tier, and per-action
// notifications when something needs review.
package notify

import (
	"go.uber.org/zap"

	"github.com/tollgate-ai/tollgate/internal/risk"
)

// Options control notification delivery.
type Options struct {
	// RequireInteraction keeps the notification visible until handled.
	RequireInteraction bool
	Priority           int
}

// Notifier delivers badge updates and notifications. Implementations are
// fire-and-forget: delivery failures are logged, never returned.
type Notifier interface {
	SetBadgeCount(count int, color string)
	ClearBadge()
	Notify(title, message string, opts Options)
}

// Badge colors by risk tier.
const (
	ColorGreen  = "green"
	ColorYellow = "yellow"
	ColorOrange = "orange"
	ColorRed    = "red"
)

// BadgeColor maps the highest queued risk tier to a badge color.
func BadgeColor(t risk.Tier) string {
	switch t {
	case risk.TierCritical:
		return ColorRed
	case risk.TierHigh:
		return ColorOrange
	case risk.TierMedium:
		return ColorYellow
	default:
		return ColorGreen
	}
}

// LogNotifier writes badge updates and notifications to the logger. It is
// the default sink when no UI channel is attached.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SetBadgeCount(count int, color string) {
	n.logger.Info("badge updated",
		zap.Int("count", count),
		zap.String("color", color),
	)
}

func (n *LogNotifier) ClearBadge() {
	n.logger.Info("badge cleared")
}

func (n *LogNotifier) Notify(title, message string, opts Options) {
	n.logger.Info("notification",
		zap.String("title", title),
		zap.String("message", message),
		zap.Bool("require_interaction", opts.RequireInteraction),
		zap.Int("priority", opts.Priority),
	)
}
