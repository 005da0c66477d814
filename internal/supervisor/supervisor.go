// Package supervisor drives the periodic scan loop: walk active mappings,
// fetch books, detect opportunities, and hand the best one per cycle to the
// execution engine.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// mappingSource is the slice of the matcher the supervisor consumes.
type mappingSource interface {
	ActiveMappings() []domain.EventMapping
	CanTrade(m domain.EventMapping) bool
}

// bookDetector is the detection interface shared with the engine.
type bookDetector interface {
	Detect(mapping domain.EventMapping, polyBook, kalshiBook domain.OrderBook) (domain.Opportunity, bool)
	ClearExpired()
}

// executor runs one execution attempt.
type executor interface {
	Execute(ctx context.Context, mapping domain.EventMapping, opp domain.Opportunity) (domain.ExecutionRecord, error)
}

// pauseReader exposes the breaker flag; detection continues while paused,
// execution does not.
type pauseReader interface {
	IsPaused() bool
	RecordFailure(ctx context.Context, kind domain.FailureKind) error
}

// Supervisor owns the scan cadence. One instance runs per process.
type Supervisor struct {
	cfg      config.ArbitrageConfig
	mappings mappingSource
	adapters map[domain.Venue]domain.VenueAdapter
	detector bookDetector
	engine   executor
	breaker  pauseReader
	opps     domain.OpportunityStore
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a Supervisor.
func New(
	cfg config.ArbitrageConfig,
	mappings mappingSource,
	adapters map[domain.Venue]domain.VenueAdapter,
	det bookDetector,
	engine executor,
	cb pauseReader,
	opps domain.OpportunityStore,
	logger *slog.Logger,
) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		mappings: mappings,
		adapters: adapters,
		detector: det,
		engine:   engine,
		breaker:  cb,
		opps:     opps,
		logger:   logger.With(slog.String("component", "supervisor")),
		now:      time.Now,
		sleep:    sleepCtx,
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

// Run drives the scan loop until ctx is cancelled. Hard rate limits from a
// venue stretch the interval for one cycle; everything else keeps the
// configured cadence.
func (s *Supervisor) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.ScanIntervalMs) * time.Millisecond
	s.logger.Info("scan loop started", slog.Duration("interval", interval))

	for {
		rateLimited := s.ScanOnce(ctx)
		s.detector.ClearExpired()

		wait := interval
		if rateLimited {
			wait = time.Duration(s.cfg.RateLimitedBackoffMs) * time.Millisecond
			s.logger.Warn("rate limited, slowing scan loop", slog.Duration("backoff", wait))
		}
		if err := s.sleep(ctx, wait); err != nil {
			s.logger.Info("scan loop stopped")
			return err
		}
	}
}

// ScanOnce walks every tradable mapping, detects, and executes the single
// best opportunity of the cycle. It reports whether a venue hard rate limit
// was hit so the caller can slow down.
func (s *Supervisor) ScanOnce(ctx context.Context) (rateLimited bool) {
	type scored struct {
		mapping domain.EventMapping
		opp     domain.Opportunity
	}
	var found []scored

	for _, mapping := range s.mappings.ActiveMappings() {
		if ctx.Err() != nil {
			return rateLimited
		}
		if !s.mappings.CanTrade(mapping) {
			continue
		}

		polyBook, kalshiBook, err := s.fetchBooks(ctx, mapping)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				rateLimited = true
				if cbErr := s.breaker.RecordFailure(ctx, domain.FailureRateLimit); cbErr != nil {
					s.logger.Error("record rate limit", slog.String("error", cbErr.Error()))
				}
			} else {
				s.logger.Warn("book fetch failed",
					slog.String("mapping_id", mapping.ID),
					slog.String("error", err.Error()))
			}
			continue
		}

		opp, ok := s.detector.Detect(mapping, polyBook, kalshiBook)
		if !ok {
			continue
		}
		if err := s.opps.Insert(ctx, opp); err != nil {
			s.logger.Warn("persist opportunity",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()))
		}
		found = append(found, scored{mapping, opp})
	}

	if len(found) == 0 {
		return rateLimited
	}

	// Best total expected profit first; detection ran for all of them, but
	// only one executes per cycle.
	sort.Slice(found, func(i, j int) bool { return found[i].opp.Value() > found[j].opp.Value() })
	best := found[0]

	if s.breaker.IsPaused() {
		s.logger.Debug("paused, skipping execution",
			slog.String("opportunity_id", best.opp.ID))
		return rateLimited
	}

	if _, err := s.engine.Execute(ctx, best.mapping, best.opp); err != nil {
		s.logger.Error("execution attempt failed",
			slog.String("opportunity_id", best.opp.ID),
			slog.String("error", err.Error()))
	}
	return rateLimited
}

// fetchBooks pulls both books concurrently with the read-retry policy.
func (s *Supervisor) fetchBooks(ctx context.Context, mapping domain.EventMapping) (polyBook, kalshiBook domain.OrderBook, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		polyBook, err = s.fetchWithRetry(gctx, domain.VenuePolymarket, mapping.PolyContract)
		return err
	})
	g.Go(func() error {
		var err error
		kalshiBook, err = s.fetchWithRetry(gctx, domain.VenueKalshi, mapping.KalshiContract)
		return err
	})
	err = g.Wait()
	return polyBook, kalshiBook, err
}

// fetchWithRetry applies the adapter read policy: up to 3 retries with
// exponential backoff (1s base, ×2, 8s cap), only for retriable errors.
func (s *Supervisor) fetchWithRetry(ctx context.Context, venue domain.Venue, contract string) (domain.OrderBook, error) {
	const (
		maxRetries = 3
		baseDelay  = time.Second
		maxDelay   = 8 * time.Second
	)

	var lastErr error
	delay := baseDelay
	for attempt := 0; ; attempt++ {
		book, err := s.adapters[venue].GetOrderBook(ctx, contract)
		if err == nil {
			return book, nil
		}
		lastErr = err
		if !domain.Retriable(err) || attempt >= maxRetries {
			return domain.OrderBook{}, lastErr
		}

		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return domain.OrderBook{}, lastErr
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
