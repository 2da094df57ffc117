package risk

import "strings"

// Verdict is the three-tier risk classification attached to an order.
type Verdict string

const (
	VerdictLow    Verdict = "low"
	VerdictMedium Verdict = "medium"
	VerdictHigh   Verdict = "high"
)

// verdictTokens maps every spelling seen from scorers and older dashboard
// builds onto the canonical vocabulary. Keys are lower-cased.
var verdictTokens = map[string]Verdict{
	"low":      VerdictLow,
	"green":    VerdictLow,
	"safe":     VerdictLow,
	"ok":       VerdictLow,
	"medium":   VerdictMedium,
	"amber":    VerdictMedium,
	"warn":     VerdictMedium,
	"warning":  VerdictMedium,
	"yellow":   VerdictMedium,
	"caution":  VerdictMedium,
	"high":     VerdictHigh,
	"red":      VerdictHigh,
	"danger":   VerdictHigh,
	"critical": VerdictHigh,
}

// LookupVerdict translates a raw token. ok is false for empty or unknown tokens.
func LookupVerdict(raw string) (v Verdict, ok bool) {
	v, ok = verdictTokens[strings.ToLower(strings.TrimSpace(raw))]
	return v, ok
}

// Valid reports whether v is one of the canonical verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictLow, VerdictMedium, VerdictHigh:
		return true
	}
	return false
}

// Severity orders verdicts: low=0, medium=1, high=2.
func (v Verdict) Severity() int {
	switch v {
	case VerdictHigh:
		return 2
	case VerdictMedium:
		return 1
	default:
		return 0
	}
}

// Label is the merchant-facing badge text.
func (v Verdict) Label() string {
	switch v {
	case VerdictHigh:
		return "High"
	case VerdictMedium:
		return "Medium"
	default:
		return "Low"
	}
}

// Tone is the badge tone used by the dashboard pages.
func (v Verdict) Tone() string {
	switch v {
	case VerdictHigh:
		return "critical"
	case VerdictMedium:
		return "warning"
	default:
		return "success"
	}
}

// Default thresholds for deriving a verdict from a score.
const (
	DefaultHighThreshold   = 80
	DefaultMediumThreshold = 60
)

// Classify derives a verdict from a score. Scores at or above high are high,
// at or above medium are medium, everything else is low.
func Classify(score, medium, high int) Verdict {
	switch {
	case score >= high:
		return VerdictHigh
	case score >= medium:
		return VerdictMedium
	default:
		return VerdictLow
	}
}
