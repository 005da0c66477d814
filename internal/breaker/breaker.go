// Package breaker implements the trading circuit breaker: a single-writer,
// many-reader pause flag with a failure taxonomy that decides when trading
// stops automatically.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// Persister makes breaker transitions durable. A pause must be on disk
// before any caller can observe the paused flag.
type Persister interface {
	SetCircuitBreaker(ctx context.Context, st domain.CircuitBreakerState) error
}

// Breaker guards all execution paths. Detection may keep running while
// paused, but no order leaves the process until an operator resumes.
type Breaker struct {
	cfg       config.BreakerConfig
	persister Persister
	alerter   domain.Alerter
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state domain.CircuitBreakerState
}

// New builds a Breaker seeded from a previously persisted state (zero value
// for a fresh start).
func New(cfg config.BreakerConfig, seed domain.CircuitBreakerState, persister Persister, alerter domain.Alerter, logger *slog.Logger) *Breaker {
	return &Breaker{
		cfg:       cfg,
		persister: persister,
		alerter:   alerter,
		logger:    logger.With(slog.String("component", "breaker")),
		now:       time.Now,
		state:     seed,
	}
}

// IsPaused reports whether trading is currently halted.
func (b *Breaker) IsPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Paused
}

// State returns a copy of the current breaker state.
func (b *Breaker) State() domain.CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Pause halts trading. Idempotent: while paused, subsequent calls keep the
// first reason and timestamp. The transition is persisted before the
// in-memory flag flips, so an observer never sees a pause that would be lost
// on crash.
func (b *Breaker) Pause(ctx context.Context, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pauseLocked(ctx, reason)
}

func (b *Breaker) pauseLocked(ctx context.Context, reason string) error {
	if b.state.Paused {
		return nil
	}

	at := b.now().UTC()
	next := b.state
	next.Paused = true
	next.Reason = reason
	next.PausedAt = &at

	if err := b.persister.SetCircuitBreaker(ctx, next); err != nil {
		return fmt.Errorf("breaker: persist pause: %w", err)
	}
	b.state = next

	b.logger.Error("trading paused", slog.String("reason", reason))
	if err := b.alerter.Alert(ctx, domain.SeverityCritical, "circuit_breaker_paused",
		"Trading paused", fmt.Sprintf("Circuit breaker tripped: %s", reason)); err != nil {
		b.logger.Warn("pause alert failed", slog.String("error", err.Error()))
	}
	return nil
}

// Resume clears the pause flag and all counters.
func (b *Breaker) Resume(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := domain.CircuitBreakerState{}
	if err := b.persister.SetCircuitBreaker(ctx, next); err != nil {
		return fmt.Errorf("breaker: persist resume: %w", err)
	}
	prev := b.state
	b.state = next

	if prev.Paused {
		b.logger.Info("trading resumed", slog.String("previous_reason", prev.Reason))
		if err := b.alerter.Alert(ctx, domain.SeverityMedium, "circuit_breaker_resumed",
			"Trading resumed", fmt.Sprintf("Resumed after pause: %s", prev.Reason)); err != nil {
			b.logger.Warn("resume alert failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// RecordFailure feeds one classified failure into the breaker and applies
// the auto-pause rules for its kind.
func (b *Breaker) RecordFailure(ctx context.Context, kind domain.FailureKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch kind {
	case domain.FailureExecution:
		b.state.ConsecutiveFailures++
		if b.state.ConsecutiveFailures >= b.cfg.MaxConsecutiveFailures {
			return b.pauseLocked(ctx, fmt.Sprintf("%d consecutive execution failures", b.state.ConsecutiveFailures))
		}
	case domain.FailureAsymmetric:
		b.state.AsymmetricCount++
		if b.state.AsymmetricCount >= b.cfg.MaxAsymmetricExecutions {
			return b.pauseLocked(ctx, "asymmetric execution")
		}
	case domain.FailureConnectionLost:
		return b.pauseLocked(ctx, "venue connection lost")
	case domain.FailureDailyLoss:
		return b.pauseLocked(ctx, "daily loss limit breached")
	case domain.FailureStateUnrecoverable:
		return b.pauseLocked(ctx, "state persistence unrecoverable")
	case domain.FailureRateLimit:
		// Informational only: the scan loop slows down on its own.
		b.logger.Warn("rate limit recorded")
	default:
		b.logger.Warn("unknown failure kind", slog.String("kind", string(kind)))
	}
	return nil
}

// RecordSuccess resets the consecutive-failure counter. Other counters and
// the pause flag are untouched.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.state.ConsecutiveFailures = 0
	b.mu.Unlock()
}
