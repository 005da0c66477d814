package supervisor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// --- fakes -----------------------------------------------------------------

type fakeMappings struct {
	active   []domain.EventMapping
	tradable map[string]bool
}

func (f *fakeMappings) ActiveMappings() []domain.EventMapping { return f.active }
func (f *fakeMappings) CanTrade(m domain.EventMapping) bool {
	if f.tradable == nil {
		return true
	}
	return f.tradable[m.ID]
}

type fakeAdapter struct {
	venue domain.Venue
	books map[string]domain.OrderBook
	errs  []error // consumed per call, nil afterwards
	calls int
}

func (a *fakeAdapter) Venue() domain.Venue { return a.venue }

func (a *fakeAdapter) GetOrderBook(_ context.Context, contract string) (domain.OrderBook, error) {
	idx := a.calls
	a.calls++
	if idx < len(a.errs) && a.errs[idx] != nil {
		return domain.OrderBook{}, a.errs[idx]
	}
	return a.books[contract], nil
}

func (a *fakeAdapter) PlaceFOK(context.Context, domain.OrderRequest) (domain.FillResult, error) {
	return domain.FillResult{}, nil
}
func (a *fakeAdapter) CancelOrder(context.Context, string) error { return nil }
func (a *fakeAdapter) GetBalance(context.Context) (domain.Balance, error) {
	return domain.Balance{}, nil
}
func (a *fakeAdapter) GetPositions(context.Context) ([]domain.VenuePosition, error) {
	return nil, nil
}
func (a *fakeAdapter) StreamBooks(context.Context, []string, domain.BookHandler) error { return nil }

type fakeDetector struct {
	opps    map[string]domain.Opportunity // mapping ID -> opportunity
	cleared int
}

func (d *fakeDetector) Detect(mapping domain.EventMapping, _, _ domain.OrderBook) (domain.Opportunity, bool) {
	opp, ok := d.opps[mapping.ID]
	return opp, ok
}
func (d *fakeDetector) ClearExpired() { d.cleared++ }

type fakeExecutor struct {
	executed []domain.Opportunity
}

func (e *fakeExecutor) Execute(_ context.Context, _ domain.EventMapping, opp domain.Opportunity) (domain.ExecutionRecord, error) {
	e.executed = append(e.executed, opp)
	return domain.ExecutionRecord{Status: domain.ExecComplete}, nil
}

type fakeBreaker struct {
	paused   bool
	failures []domain.FailureKind
}

func (b *fakeBreaker) IsPaused() bool { return b.paused }
func (b *fakeBreaker) RecordFailure(_ context.Context, k domain.FailureKind) error {
	b.failures = append(b.failures, k)
	return nil
}

type memOppStore struct {
	opps []domain.Opportunity
}

func (s *memOppStore) Insert(_ context.Context, opp domain.Opportunity) error {
	s.opps = append(s.opps, opp)
	return nil
}
func (s *memOppStore) ListRecent(context.Context, int) ([]domain.Opportunity, error) {
	return s.opps, nil
}

// --- fixtures --------------------------------------------------------------

func mapping(id string) domain.EventMapping {
	return domain.EventMapping{
		ID: id, PolyContract: "0x" + id, KalshiContract: "KX" + id,
		Confidence: 1.0, Active: true,
	}
}

func opp(mappingID string, net, qty float64) domain.Opportunity {
	return domain.Opportunity{
		ID: "opp-" + mappingID, MappingID: mappingID,
		BuyVenue: domain.VenuePolymarket, SellVenue: domain.VenueKalshi,
		NetProfitPerUnit: net, MaxQty: qty,
		ExpiresAt: time.Now().Add(5 * time.Second),
	}
}

type harness struct {
	sup      *Supervisor
	mappings *fakeMappings
	poly     *fakeAdapter
	kalshi   *fakeAdapter
	detector *fakeDetector
	executor *fakeExecutor
	breaker  *fakeBreaker
	opps     *memOppStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mappings: &fakeMappings{},
		poly:     &fakeAdapter{venue: domain.VenuePolymarket, books: map[string]domain.OrderBook{}},
		kalshi:   &fakeAdapter{venue: domain.VenueKalshi, books: map[string]domain.OrderBook{}},
		detector: &fakeDetector{opps: map[string]domain.Opportunity{}},
		executor: &fakeExecutor{},
		breaker:  &fakeBreaker{},
		opps:     &memOppStore{},
	}
	h.sup = New(
		config.Defaults().Arbitrage,
		h.mappings,
		map[domain.Venue]domain.VenueAdapter{
			domain.VenuePolymarket: h.poly,
			domain.VenueKalshi:     h.kalshi,
		},
		h.detector, h.executor, h.breaker, h.opps,
		slog.Default(),
	)
	// No real sleeping in tests.
	h.sup.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return h
}

// --- tests -----------------------------------------------------------------

func TestScanExecutesBestOpportunity(t *testing.T) {
	h := newHarness(t)
	h.mappings.active = []domain.EventMapping{mapping("a"), mapping("b")}
	h.detector.opps["a"] = opp("a", 0.03, 100) // value 3.0
	h.detector.opps["b"] = opp("b", 0.05, 100) // value 5.0

	rateLimited := h.sup.ScanOnce(context.Background())
	assert.False(t, rateLimited)

	// Both opportunities persisted, only the best executed.
	assert.Len(t, h.opps.opps, 2)
	require.Len(t, h.executor.executed, 1)
	assert.Equal(t, "opp-b", h.executor.executed[0].ID)
}

func TestScanSkipsUntradableMappings(t *testing.T) {
	h := newHarness(t)
	h.mappings.active = []domain.EventMapping{mapping("a"), mapping("b")}
	h.mappings.tradable = map[string]bool{"b": true}
	h.detector.opps["a"] = opp("a", 0.05, 100)
	h.detector.opps["b"] = opp("b", 0.03, 100)

	h.sup.ScanOnce(context.Background())
	require.Len(t, h.executor.executed, 1)
	assert.Equal(t, "opp-b", h.executor.executed[0].ID)
}

func TestScanPausedSuppressesExecution(t *testing.T) {
	h := newHarness(t)
	h.mappings.active = []domain.EventMapping{mapping("a")}
	h.detector.opps["a"] = opp("a", 0.05, 100)
	h.breaker.paused = true

	h.sup.ScanOnce(context.Background())

	// Detection still ran and the opportunity was recorded.
	assert.Len(t, h.opps.opps, 1)
	assert.Empty(t, h.executor.executed)
}

func TestScanRateLimited(t *testing.T) {
	h := newHarness(t)
	h.mappings.active = []domain.EventMapping{mapping("a")}
	// Rate limit persists through all retries.
	h.poly.errs = []error{domain.ErrRateLimited, domain.ErrRateLimited, domain.ErrRateLimited, domain.ErrRateLimited}

	rateLimited := h.sup.ScanOnce(context.Background())
	assert.True(t, rateLimited)
	assert.Equal(t, []domain.FailureKind{domain.FailureRateLimit}, h.breaker.failures)
	assert.Empty(t, h.executor.executed)
}

func TestFetchRetriesTransient(t *testing.T) {
	h := newHarness(t)
	h.mappings.active = []domain.EventMapping{mapping("a")}
	// Two transient failures, then success.
	h.poly.errs = []error{domain.ErrTransient, domain.ErrTransient}
	h.detector.opps["a"] = opp("a", 0.05, 100)

	h.sup.ScanOnce(context.Background())
	require.Len(t, h.executor.executed, 1)
	assert.Equal(t, 3, h.poly.calls)
}

func TestFetchDoesNotRetryFatal(t *testing.T) {
	h := newHarness(t)
	h.mappings.active = []domain.EventMapping{mapping("a")}
	h.poly.errs = []error{domain.ErrVenueFatal}
	h.detector.opps["a"] = opp("a", 0.05, 100)

	h.sup.ScanOnce(context.Background())
	assert.Empty(t, h.executor.executed)
	assert.Equal(t, 1, h.poly.calls)
}

func TestScanNoOpportunities(t *testing.T) {
	h := newHarness(t)
	h.mappings.active = []domain.EventMapping{mapping("a")}

	rateLimited := h.sup.ScanOnce(context.Background())
	assert.False(t, rateLimited)
	assert.Empty(t, h.opps.opps)
	assert.Empty(t, h.executor.executed)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.sup.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	// The cache sweep ran for the completed cycle.
	assert.Equal(t, 1, h.detector.cleared)
}
