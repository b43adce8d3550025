package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// Injection patterns: SQL and shell injection in descriptions or arguments.
var injectionPatterns = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`(?i)\b(DROP|DELETE|TRUNCATE|ALTER)\s+(TABLE|DATABASE|INDEX|SCHEMA)\b`), "SQL injection"},
	{regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`), "SQL injection (union)"},
	{regexp.MustCompile(`(?i);\s*(rm|cat|curl|wget|chmod|chown|sudo|bash|sh|exec)\b`), "command injection"},
	{regexp.MustCompile(`(?i)(\||&&)\s*(rm|cat|curl|wget|chmod|chown|sudo|bash|sh)\b`), "command injection (pipe/chain)"},
	{regexp.MustCompile(`\$\([^)]+\)`), "command substitution"},
	{regexp.MustCompile("`[^`]+`"), "backtick command execution"},
}

// Destructive operations that should never run without human review.
var destructivePatterns = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`(?i)\brm\s+-rf?\b`), "recursive delete"},
	{regexp.MustCompile(`(?i)\b(mkfs|fdisk|dd)\b`), "disk-level operation"},
	{regexp.MustCompile(`(?i)\b(shutdown|reboot|killall)\b`), "host control"},
	{regexp.MustCompile(`(?i)\bdrain\w*\s+(wallet|account|funds)\b`), "fund drain"},
	{regexp.MustCompile(`(?i)\bchmod\s+777\b`), "world-writable permissions"},
}

// Sensitive filesystem locations.
var sensitivePathPatterns = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`(?i)/etc/(passwd|shadow|sudoers)`), "system credential file"},
	{regexp.MustCompile(`(?i)\.ssh/(id_rsa|id_ed25519|authorized_keys)`), "SSH key material"},
	{regexp.MustCompile(`(?i)\.(aws|kube)/(credentials|config)`), "cloud credentials"},
	{regexp.MustCompile(`(?i)\.env\b`), "environment secrets file"},
}

// Exfiltration: secrets headed at external endpoints.
var exfiltrationPatterns = []struct {
	re     *regexp.Regexp
	detail string
}{
	{regexp.MustCompile(`(?i)(curl|wget|nc|ncat)\s+\S*(https?://|\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})`), "network upload tool"},
	{regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password)\s*[=:]\s*\S+.{0,80}https?://`), "credential paired with external URL"},
	{regexp.MustCompile(`(?i)https?://\S+\?(.*\b(key|token|secret|password)=)`), "secret in URL query"},
}

// PatternValidator is the default in-process validator: pure regex scanning
// over the action description and serialized arguments.
type PatternValidator struct{}

func NewPatternValidator() *PatternValidator {
	return &PatternValidator{}
}

// Validate scans description and arguments against all four categories.
// Never returns an error; the error slot exists for remote implementations.
func (v *PatternValidator) Validate(_ context.Context, description string, args map[string]any) (*Result, error) {
	payload := description
	if len(args) > 0 {
		if encoded, err := json.Marshal(args); err == nil {
			payload += "\n" + string(encoded)
		}
	}

	result := &Result{
		InjectionSafe:    true,
		DestructiveSafe:  true,
		PathSafe:         true,
		ExfiltrationSafe: true,
	}

	for _, p := range injectionPatterns {
		if p.re.MatchString(payload) {
			result.InjectionSafe = false
			result.Issues = append(result.Issues, fmt.Sprintf("injection pattern: %s", p.detail))
		}
	}
	for _, p := range destructivePatterns {
		if p.re.MatchString(payload) {
			result.DestructiveSafe = false
			result.Issues = append(result.Issues, fmt.Sprintf("destructive operation: %s", p.detail))
		}
	}
	for _, p := range sensitivePathPatterns {
		if p.re.MatchString(payload) {
			result.PathSafe = false
			result.Issues = append(result.Issues, fmt.Sprintf("sensitive path: %s", p.detail))
		}
	}
	for _, p := range exfiltrationPatterns {
		if p.re.MatchString(payload) {
			result.ExfiltrationSafe = false
			result.Issues = append(result.Issues, fmt.Sprintf("exfiltration pattern: %s", p.detail))
		}
	}

	return result, nil
}
