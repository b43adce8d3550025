package risk

import "strings"

// Numeric baselines keyed by the action's declared tier (0-100 scale).
const (
	baselineLow      = 20
	baselineMedium   = 50
	baselineHigh     = 75
	baselineCritical = 95
)

// Category floors raised when the action or tool name carries a risky keyword.
// Floors are applied with max: they can only escalate, never lower the baseline.
const (
	highKeywordFloor   = 80
	mediumKeywordFloor = 45
)

// Trust adjustments.
const (
	trustedBonus = 15 // subtracted when the requester is explicitly trusted
)

// Argument-content increments, each category applied independently.
const (
	sensitivePathIncrement = 15
	externalURLIncrement   = 10
	codeExecIncrement      = 20
)

// Tier breakpoints on the clamped 0-100 score.
const (
	criticalBreakpoint = 85
	highBreakpoint     = 65
	mediumBreakpoint   = 40
)

var highRiskKeywords = []string{
	"execute", "shell", "spawn", "drain", "delete", "remove", "destroy",
	"transfer", "withdraw", "send_funds", "deploy", "approve_contract",
	"sign", "sudo", "format",
}

var mediumRiskKeywords = []string{
	"read", "fetch", "write", "update", "list", "query", "download",
	"upload", "search",
}

var sensitivePathTokens = []string{
	"/etc/", "/root/", "/var/", ".ssh", ".aws", ".env", "id_rsa",
	"passwd", "shadow", "private_key", "credentials", "c:\\windows",
}

var codeExecTokens = []string{
	"eval(", "exec(", "system(", "popen(", "subprocess", "os.system",
	"child_process", "$(", "`",
}

// Input carries everything the scorer looks at. Callers build it from an
// action and its request context; the scorer itself stays a pure leaf.
type Input struct {
	DeclaredRisk  Tier
	Name          string // action type or tool name
	Trusted       bool
	TrustLevel    int // 0-100, higher is more trusted
	ArgumentsJSON string
}

// Scorer computes a risk tier for a proposed action. Deterministic and
// side-effect free.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Score runs the full pipeline: declared baseline, keyword category floor,
// trust adjustment, argument-content scan, clamp, breakpoint mapping.
func (s *Scorer) Score(in Input) Tier {
	score := baseline(in.DeclaredRisk)

	name := strings.ToLower(in.Name)
	if containsAny(name, highRiskKeywords) && score < highKeywordFloor {
		score = highKeywordFloor
	} else if containsAny(name, mediumRiskKeywords) && score < mediumKeywordFloor {
		score = mediumKeywordFloor
	}

	if in.Trusted {
		score -= trustedBonus
	} else {
		score += trustPenalty(in.TrustLevel)
	}

	args := strings.ToLower(in.ArgumentsJSON)
	if args != "" {
		if containsAny(args, sensitivePathTokens) {
			score += sensitivePathIncrement
		}
		if strings.Contains(args, "http://") || strings.Contains(args, "https://") {
			score += externalURLIncrement
		}
		if containsAny(args, codeExecTokens) {
			score += codeExecIncrement
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	switch {
	case score >= criticalBreakpoint:
		return TierCritical
	case score >= highBreakpoint:
		return TierHigh
	case score >= mediumBreakpoint:
		return TierMedium
	default:
		return TierLow
	}
}

func baseline(declared Tier) int {
	switch declared {
	case TierLow:
		return baselineLow
	case TierHigh:
		return baselineHigh
	case TierCritical:
		return baselineCritical
	default:
		// Unknown declared tiers score as medium rather than low.
		return baselineMedium
	}
}

// trustPenalty grows as the requester's trust level drops.
func trustPenalty(trustLevel int) int {
	if trustLevel < 0 {
		trustLevel = 0
	}
	if trustLevel > 100 {
		trustLevel = 100
	}
	return (100 - trustLevel) / 4
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
