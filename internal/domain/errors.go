package domain

import "errors"

// Sentinel errors surfaced by adapters and stores. Adapter errors wrap one of
// the venue sentinels so callers can classify with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrTransient    = errors.New("transient venue error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrVenueFatal   = errors.New("fatal venue error")
	ErrPaused       = errors.New("circuit breaker paused")
	ErrStale        = errors.New("data too stale")
)

// Retriable reports whether an adapter error is worth retrying under the
// read-retry policy. Only soft failures qualify; anything else is surfaced.
func Retriable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// FailureKind is the taxonomy fed to the circuit breaker. The breaker's
// auto-pause rules key off these values.
type FailureKind string

const (
	// FailureExecution covers a failed execution attempt that is not
	// asymmetric; pauses after a run of consecutive occurrences.
	FailureExecution FailureKind = "execution_failure"
	// FailureAsymmetric means one leg filled and the other did not. Pauses
	// immediately and requires human resolution.
	FailureAsymmetric FailureKind = "asymmetric_execution"
	// FailureConnectionLost means a venue stream exhausted its reconnect
	// budget. Pauses immediately.
	FailureConnectionLost FailureKind = "connection_lost"
	// FailureDailyLoss means the daily loss limit was breached. Pauses
	// immediately.
	FailureDailyLoss FailureKind = "daily_loss_limit"
	// FailureRateLimit is informational; it slows the scan loop but never
	// pauses the breaker.
	FailureRateLimit FailureKind = "rate_limit_exceeded"
	// FailureStateUnrecoverable means state snapshots have failed
	// repeatedly; trading must stop because recovery can no longer be
	// guaranteed. Pauses immediately.
	FailureStateUnrecoverable FailureKind = "state_unrecoverable"
)
