// Package feed keeps one push stream per venue alive, mirroring every pushed
// order book into the shared book cache. Push data is advisory: execution
// always re-fetches books over REST, so a dead stream degrades freshness but
// never correctness.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// connectionBreaker is the slice of the circuit breaker the feed consumes.
type connectionBreaker interface {
	RecordFailure(ctx context.Context, kind domain.FailureKind) error
}

// ContractLister returns the contracts the feed should subscribe to. It is
// re-evaluated on every (re)connect so newly discovered mappings are picked up
// without a restart.
type ContractLister func() []string

// Feed owns the reconnect loop for a single venue stream.
type Feed struct {
	cfg       config.WSConfig
	adapter   domain.VenueAdapter
	cache     domain.BookCache
	breaker   connectionBreaker
	contracts ContractLister
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	lastMsg atomic.Int64 // unix nanos of the last pushed snapshot
}

// New builds a Feed for one venue.
func New(
	cfg config.WSConfig,
	adapter domain.VenueAdapter,
	cache domain.BookCache,
	cb connectionBreaker,
	contracts ContractLister,
	logger *slog.Logger,
) *Feed {
	return &Feed{
		cfg:       cfg,
		adapter:   adapter,
		cache:     cache,
		breaker:   cb,
		contracts: contracts,
		logger: logger.With(
			slog.String("component", "feed"),
			slog.String("venue", string(adapter.Venue())),
		),
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run maintains the stream until ctx is cancelled. Consecutive failed
// connection attempts back off exponentially; once the attempt budget is
// exhausted the breaker is told the connection is lost, and the loop keeps
// retrying at the maximum backoff so a recovered venue resubscribes on its
// own.
func (f *Feed) Run(ctx context.Context) error {
	attempts := 0
	delay := f.cfg.InitialBackoff.Duration

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		contracts := f.contracts()
		if len(contracts) == 0 {
			if err := f.sleep(ctx, f.cfg.MaxBackoff.Duration); err != nil {
				return err
			}
			continue
		}

		err := f.runStream(ctx, contracts)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that delivered at least one snapshot counts as a
		// success and resets the attempt budget.
		if f.lastMsg.Load() > 0 {
			attempts = 0
			delay = f.cfg.InitialBackoff.Duration
			f.lastMsg.Store(0)
		}

		attempts++
		f.logger.Warn("stream disconnected",
			slog.Int("attempt", attempts),
			slog.String("error", errString(err)))

		if attempts >= f.cfg.MaxAttempts {
			if cbErr := f.breaker.RecordFailure(ctx, domain.FailureConnectionLost); cbErr != nil {
				f.logger.Error("record connection loss", slog.String("error", cbErr.Error()))
			}
			attempts = 0
			delay = f.cfg.MaxBackoff.Duration
		}

		if err := f.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > f.cfg.MaxBackoff.Duration {
			delay = f.cfg.MaxBackoff.Duration
		}
	}
}

// runStream runs one subscription with a heartbeat watchdog: when no snapshot
// arrives within the configured timeout the stream is torn down so the outer
// loop reconnects.
func (f *Feed) runStream(ctx context.Context, contracts []string) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.lastMsg.Store(0)
	connectedAt := f.now()

	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		ticker := time.NewTicker(f.cfg.HeartbeatTimeout.Duration / 2)
		defer ticker.Stop()
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-ticker.C:
				last := f.lastMsg.Load()
				ref := connectedAt
				if last > 0 {
					ref = time.Unix(0, last)
				}
				if f.now().Sub(ref) > f.cfg.HeartbeatTimeout.Duration {
					f.logger.Warn("heartbeat timeout, dropping stream")
					cancel()
					return
				}
			}
		}
	}()

	err := f.adapter.StreamBooks(streamCtx, contracts, f.handleBook)
	cancel()
	<-watchdogDone
	if err == nil {
		err = fmt.Errorf("feed: stream for %d contracts closed", len(contracts))
	}
	return err
}

// handleBook mirrors one pushed snapshot into the cache. Cache write failures
// are logged and dropped; the stream stays up.
func (f *Feed) handleBook(book domain.OrderBook) {
	f.lastMsg.Store(f.now().UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := book.Validate(); err != nil {
		f.logger.Debug("dropping invalid pushed book", slog.String("error", err.Error()))
		return
	}
	if err := f.cache.SetBook(ctx, book); err != nil {
		f.logger.Warn("cache book",
			slog.String("contract", book.Contract),
			slog.String("error", err.Error()))
		return
	}
	if err := f.cache.Heartbeat(ctx, f.adapter.Venue(), book.Timestamp); err != nil {
		f.logger.Debug("cache heartbeat", slog.String("error", err.Error()))
	}
}

func errString(err error) string {
	if err == nil {
		return "stream closed"
	}
	return err.Error()
}
