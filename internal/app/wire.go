package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/crossclob/arbot/internal/blob/s3"
	"github.com/crossclob/arbot/internal/breaker"
	rediscache "github.com/crossclob/arbot/internal/cache/redis"
	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/detector"
	"github.com/crossclob/arbot/internal/domain"
	"github.com/crossclob/arbot/internal/engine"
	"github.com/crossclob/arbot/internal/feed"
	"github.com/crossclob/arbot/internal/matcher"
	"github.com/crossclob/arbot/internal/notify"
	"github.com/crossclob/arbot/internal/risk"
	"github.com/crossclob/arbot/internal/state"
	"github.com/crossclob/arbot/internal/store/postgres"
	"github.com/crossclob/arbot/internal/supervisor"
	"github.com/crossclob/arbot/internal/venue/kalshi"
	"github.com/crossclob/arbot/internal/venue/polymarket"
)

// Deps is the fully wired dependency graph.
type Deps struct {
	Mode       *ModeController
	Notifier   domain.Alerter
	State      *state.Store
	Breaker    *breaker.Breaker
	Matcher    *matcher.Matcher
	Risk       *risk.Manager
	Detector   *detector.Detector
	Engine     *engine.Engine
	Supervisor *supervisor.Supervisor
	Adapters   map[domain.Venue]domain.VenueAdapter
	Feeds      []*feed.Feed
	BookCache  *rediscache.BookCache
	Mappings   *postgres.MappingStore
	Opps       *postgres.OpportunityStore
	Execs      *postgres.ExecutionStore
	PosEvents  *postgres.PositionEventStore
	Archiver   *s3blob.Archiver // nil unless archival is enabled

	// StartupWarnings come from state recovery and feed the auto-start policy.
	StartupWarnings []string
}

// Wire builds the dependency graph bottom-up. The returned cleanup closes
// every connection in reverse order; it is safe to call after a partial
// failure because Wire closes what it opened before returning an error.
func Wire(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Deps, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// Postgres and the durable stores.
	pg, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return fail(fmt.Errorf("app: connect postgres: %w", err))
	}
	closers = append(closers, pg.Close)
	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("app: run migrations: %w", err))
		}
	}
	mappings := postgres.NewMappingStore(pg.Pool())
	opps := postgres.NewOpportunityStore(pg.Pool())
	execs := postgres.NewExecutionStore(pg.Pool())
	posEvents := postgres.NewPositionEventStore(pg.Pool())

	// Redis book cache.
	rc, err := rediscache.New(ctx, cfg.Redis)
	if err != nil {
		return fail(fmt.Errorf("app: connect redis: %w", err))
	}
	closers = append(closers, func() { _ = rc.Close() })
	bookCache := rediscache.NewBookCache(rc)

	// Notifications.
	notifier := notify.New(cfg.Notify, logger)

	// Durable process state, loaded before anything that reads it.
	st := state.NewStore(cfg.State, logger)
	warnings, err := st.Load()
	if err != nil {
		return fail(fmt.Errorf("app: load state: %w", err))
	}

	// Circuit breaker seeded from the recovered state.
	cb := breaker.New(cfg.Breaker, st.CircuitBreaker(), st, notifier, logger)
	st.SetEscalation(func(escCtx context.Context) {
		if err := cb.RecordFailure(escCtx, domain.FailureStateUnrecoverable); err != nil {
			logger.Error("state escalation failed", slog.String("error", err.Error()))
		}
	})

	// Venue adapters.
	poly, err := polymarket.New(cfg.Polymarket, logger)
	if err != nil {
		return fail(fmt.Errorf("app: polymarket adapter: %w", err))
	}
	ka, err := kalshi.New(cfg.Kalshi, logger)
	if err != nil {
		return fail(fmt.Errorf("app: kalshi adapter: %w", err))
	}
	adapters := map[domain.Venue]domain.VenueAdapter{
		domain.VenuePolymarket: poly,
		domain.VenueKalshi:     ka,
	}

	live := strings.ToLower(cfg.Mode) == config.ModeLive
	if live {
		if err := poly.Authenticate(ctx); err != nil {
			return fail(fmt.Errorf("app: polymarket authentication: %w", err))
		}
	}

	// Matching, detection, risk, execution.
	mt, err := matcher.New(cfg.Matcher, mappings, logger)
	if err != nil {
		return fail(fmt.Errorf("app: matcher: %w", err))
	}
	if err := mt.Load(ctx); err != nil {
		return fail(fmt.Errorf("app: load mappings: %w", err))
	}

	det := detector.New(cfg.Arbitrage, detector.NewFeeModel(cfg.Fees), logger)
	riskMgr := risk.New(cfg.Risk, cfg.Arbitrage, cb, st, logger)
	riskMgr.Reconcile(st.Positions())

	mode := NewModeController(!live)
	eng := engine.New(cfg.Execution, cfg.Risk, mode, adapters, riskMgr, cb, st, det, execs, posEvents, notifier, logger)
	sup := supervisor.New(cfg.Arbitrage, mt, adapters, det, eng, cb, opps, logger)

	// Push feeds, one per venue.
	feeds := []*feed.Feed{
		feed.New(cfg.WS, poly, bookCache, cb, contractLister(mt, domain.VenuePolymarket), logger),
		feed.New(cfg.WS, ka, bookCache, cb, contractLister(mt, domain.VenueKalshi), logger),
	}

	deps := &Deps{
		Mode:            mode,
		Notifier:        notifier,
		State:           st,
		Breaker:         cb,
		Matcher:         mt,
		Risk:            riskMgr,
		Detector:        det,
		Engine:          eng,
		Supervisor:      sup,
		Adapters:        adapters,
		Feeds:           feeds,
		BookCache:       bookCache,
		Mappings:        mappings,
		Opps:            opps,
		Execs:           execs,
		PosEvents:       posEvents,
		StartupWarnings: warnings,
	}

	if cfg.Archive.Enabled {
		s3c, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			return fail(fmt.Errorf("app: s3 client: %w", err))
		}
		if err := s3c.Health(ctx); err != nil {
			return fail(fmt.Errorf("app: s3 health: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3c, execs, cfg.Archive.Prefix, logger)
	}

	return deps, cleanup, nil
}

// contractLister adapts the matcher's active mapping set to the per-venue
// contract list a feed subscribes to.
func contractLister(mt *matcher.Matcher, venue domain.Venue) feed.ContractLister {
	return func() []string {
		active := mt.ActiveMappings()
		contracts := make([]string, 0, len(active))
		for _, m := range active {
			contracts = append(contracts, m.ContractOn(venue))
		}
		return contracts
	}
}
