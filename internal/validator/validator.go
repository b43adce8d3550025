package validator

import (
	"context"
	"strings"
)

// Result is the four-part judgement returned by a validator. Each part is a
// pass/fail verdict for one scanning category; Issues carries free-text
// findings for the failing parts.
type Result struct {
	InjectionSafe    bool     `json:"injection_safe"`
	DestructiveSafe  bool     `json:"destructive_safe"`
	PathSafe         bool     `json:"path_safe"`
	ExfiltrationSafe bool     `json:"exfiltration_safe"`
	Issues           []string `json:"issues,omitempty"`
}

// Safe reports whether all four parts passed.
func (r *Result) Safe() bool {
	return r.InjectionSafe && r.DestructiveSafe && r.PathSafe && r.ExfiltrationSafe
}

// Reason returns a human-readable summary of the failing parts.
func (r *Result) Reason() string {
	if len(r.Issues) == 0 {
		if r.Safe() {
			return ""
		}
		return "action failed safety validation"
	}
	return strings.Join(r.Issues, "; ")
}

// Validator inspects an action's description and arguments and judges its
// raw safety, independent of any operator-authored rules.
type Validator interface {
	Validate(ctx context.Context, description string, args map[string]any) (*Result, error)
}
