package risk

// Tier is the ordered risk classification of an action.
type Tier string

const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// Rank returns the tier's position in the low < medium < high < critical
// ordering. Unknown tiers rank below low.
func (t Tier) Rank() int {
	switch t {
	case TierLow:
		return 0
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	case TierCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// Max returns the higher-ranked of two tiers.
func Max(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseTier normalizes a tier string. Returns false for unknown values.
func ParseTier(s string) (Tier, bool) {
	t := Tier(s)
	if t.Valid() {
		return t, true
	}
	return "", false
}
