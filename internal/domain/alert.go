package domain

import "context"

// Severity classifies outbound alerts. Senders may filter on it.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
	SeverityFatal
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Alerter is the outbound notification channel. Implementations must be safe
// for concurrent use; delivery failures are the implementation's problem and
// never block trading decisions.
type Alerter interface {
	Alert(ctx context.Context, sev Severity, event, title, message string) error
}

// NopAlerter discards all alerts. Useful in tests and one-shot tools.
type NopAlerter struct{}

func (NopAlerter) Alert(context.Context, Severity, string, string, string) error { return nil }
