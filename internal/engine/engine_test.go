package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
	"github.com/crossclob/arbot/internal/risk"
)

// --- fakes -----------------------------------------------------------------

type fakeAdapter struct {
	venue     domain.Venue
	book      domain.OrderBook
	bookErr   error
	fok       domain.FillResult
	fokErr    error
	fokCalls  int
	positions [][]domain.VenuePosition // consumed per GetPositions call
	posErr    error
	posCalls  int
}

func (a *fakeAdapter) Venue() domain.Venue { return a.venue }

func (a *fakeAdapter) GetOrderBook(context.Context, string) (domain.OrderBook, error) {
	return a.book, a.bookErr
}

func (a *fakeAdapter) PlaceFOK(context.Context, domain.OrderRequest) (domain.FillResult, error) {
	a.fokCalls++
	return a.fok, a.fokErr
}

func (a *fakeAdapter) CancelOrder(context.Context, string) error { return nil }

func (a *fakeAdapter) GetBalance(context.Context) (domain.Balance, error) {
	return domain.Balance{Venue: a.venue}, nil
}

func (a *fakeAdapter) GetPositions(context.Context) ([]domain.VenuePosition, error) {
	if a.posErr != nil {
		return nil, a.posErr
	}
	idx := a.posCalls
	a.posCalls++
	if idx >= len(a.positions) {
		if len(a.positions) == 0 {
			return nil, nil
		}
		return a.positions[len(a.positions)-1], nil
	}
	return a.positions[idx], nil
}

func (a *fakeAdapter) StreamBooks(context.Context, []string, domain.BookHandler) error { return nil }

type fakeRisk struct {
	decision risk.Decision
	qty      float64
	fills    []domain.Position
}

func (r *fakeRisk) Validate(domain.Opportunity, float64) risk.Decision { return r.decision }
func (r *fakeRisk) OptimalQty(domain.Opportunity) float64              { return r.qty }
func (r *fakeRisk) ApplyFill(p domain.Position)                        { r.fills = append(r.fills, p) }

type fakeBreaker struct {
	paused    bool
	failures  []domain.FailureKind
	successes int
}

func (b *fakeBreaker) IsPaused() bool { return b.paused }
func (b *fakeBreaker) RecordFailure(_ context.Context, k domain.FailureKind) error {
	b.failures = append(b.failures, k)
	if k == domain.FailureAsymmetric || k == domain.FailureDailyLoss {
		b.paused = true
	}
	return nil
}
func (b *fakeBreaker) RecordSuccess() { b.successes++ }

type fakeState struct {
	trades    []float64
	volumes   []float64
	dailyPnL  float64
	fills     []domain.Position
	hypoPnL   float64
	snapshots int
}

func (s *fakeState) RecordTrade(pnl, volume float64) {
	s.trades = append(s.trades, pnl)
	s.volumes = append(s.volumes, volume)
	s.dailyPnL += pnl
}

func (s *fakeState) Daily() domain.DailyState {
	return domain.DailyState{PnL: s.dailyPnL, TradeCount: len(s.trades)}
}

func (s *fakeState) ApplyFill(venue domain.Venue, contract, mappingID string, side domain.PositionSide, qty, price float64) domain.Position {
	pos := domain.Position{
		ID: "pos-" + contract, Venue: venue, Contract: contract,
		MappingID: mappingID, Side: side, Quantity: qty, AvgPrice: price,
	}
	s.fills = append(s.fills, pos)
	return pos
}

func (s *fakeState) AddHypotheticalPnL(d float64) { s.hypoPnL += d }
func (s *fakeState) Snapshot() error              { s.snapshots++; return nil }

type fakeDetector struct {
	opp domain.Opportunity
	ok  bool
}

func (d *fakeDetector) Detect(domain.EventMapping, domain.OrderBook, domain.OrderBook) (domain.Opportunity, bool) {
	return d.opp, d.ok
}

type memExecStore struct {
	records []domain.ExecutionRecord
	err     error
}

func (s *memExecStore) Insert(_ context.Context, rec domain.ExecutionRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memExecStore) ListRecent(context.Context, int) ([]domain.ExecutionRecord, error) {
	return s.records, nil
}

func (s *memExecStore) ListBetween(context.Context, time.Time, time.Time) ([]domain.ExecutionRecord, error) {
	return s.records, nil
}

type memPosEventStore struct {
	events []domain.Position
	err    error
}

func (s *memPosEventStore) Insert(_ context.Context, pos domain.Position) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, pos)
	return nil
}

func (s *memPosEventStore) ListRecent(context.Context, int) ([]domain.Position, error) {
	return s.events, nil
}

type staticMode bool

func (m staticMode) DryRun() bool { return bool(m) }

type captureAlerter struct {
	events []string
	sevs   []domain.Severity
}

func (a *captureAlerter) Alert(_ context.Context, sev domain.Severity, event, _, _ string) error {
	a.events = append(a.events, event)
	a.sevs = append(a.sevs, sev)
	return nil
}

// --- fixtures --------------------------------------------------------------

var engineMapping = domain.EventMapping{
	ID:             "map-1",
	PolyContract:   "0xabc",
	KalshiContract: "KXBTC",
	Description:    "btc above 100k",
	Confidence:     1.0,
	Active:         true,
}

func engineOpp() domain.Opportunity {
	return domain.Opportunity{
		ID:        "opp-1",
		MappingID: "map-1",
		BuyVenue:  domain.VenuePolymarket,
		BuyPrice:  0.42,
		BuyQty:    100,
		SellVenue: domain.VenueKalshi,
		SellPrice: 0.50,
		SellQty:   100,

		GrossSpread:      0.08,
		EstFeesPerUnit:   0.04,
		NetProfitPerUnit: 0.04,
		MaxQty:           100,
		ExpiresAt:        time.Now().Add(5 * time.Second),
	}
}

type harness struct {
	engine    *Engine
	poly      *fakeAdapter
	kalshi    *fakeAdapter
	risk      *fakeRisk
	breaker   *fakeBreaker
	state     *fakeState
	detector  *fakeDetector
	execs     *memExecStore
	posEvents *memPosEventStore
	alerter   *captureAlerter
}

func newHarness(t *testing.T, dryRun bool) *harness {
	t.Helper()
	h := &harness{
		poly:      &fakeAdapter{venue: domain.VenuePolymarket},
		kalshi:    &fakeAdapter{venue: domain.VenueKalshi},
		risk:      &fakeRisk{decision: risk.Decision{Approved: true, SuggestedQty: 50}, qty: 50},
		breaker:   &fakeBreaker{},
		state:     &fakeState{},
		detector:  &fakeDetector{opp: engineOpp(), ok: true},
		execs:     &memExecStore{},
		posEvents: &memPosEventStore{},
		alerter:   &captureAlerter{},
	}
	h.build(dryRun, config.Defaults().Risk)
	return h
}

// build wires the engine from the harness fakes; tests rebuild it to vary
// configuration without swapping the fakes out.
func (h *harness) build(dryRun bool, riskCfg config.RiskConfig) {
	h.engine = New(
		config.Defaults().Execution,
		riskCfg,
		staticMode(dryRun),
		map[domain.Venue]domain.VenueAdapter{
			domain.VenuePolymarket: h.poly,
			domain.VenueKalshi:     h.kalshi,
		},
		h.risk, h.breaker, h.state, h.detector, h.execs, h.posEvents, h.alerter,
		slog.Default(),
	)
}

func filled(price, qty float64) domain.FillResult {
	return domain.FillResult{
		Outcome: domain.OutcomeFilled, OrderID: "ord-1",
		FillPrice: price, FillQty: qty, FeesUSD: 0.50, At: time.Now(),
	}
}

func rejected(reason string) domain.FillResult {
	return domain.FillResult{Outcome: domain.OutcomeRejected, Reason: reason}
}

// --- tests -----------------------------------------------------------------

func TestExecuteBothFilled(t *testing.T) {
	h := newHarness(t, false)
	h.poly.fok = filled(0.42, 50)
	h.kalshi.fok = filled(0.50, 50)

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecComplete, rec.Status)
	assert.False(t, rec.IsDryRun)
	// (0.50 − 0.42) × 50 − (0.50 + 0.50) fees.
	assert.InDelta(t, 3.0, rec.RealizedPnL, 1e-9)

	// Exactly one durable record, two positions, one daily increment.
	require.Len(t, h.execs.records, 1)
	require.Len(t, h.state.fills, 2)
	assert.Equal(t, domain.SideYes, h.state.fills[0].Side)
	assert.Equal(t, domain.SideNo, h.state.fills[1].Side)
	assert.InDelta(t, 0.50, h.state.fills[1].AvgPrice, 1e-9) // 1 − 0.50
	require.Len(t, h.state.trades, 1)
	assert.Equal(t, 1, h.breaker.successes)
	assert.Equal(t, []string{"trade_executed"}, h.alerter.events)
	// Risk ledger and audit trail mirror the canonical set.
	assert.Len(t, h.risk.fills, 2)
	assert.Len(t, h.posEvents.events, 2)
	// A profitable day never touches the breaker.
	assert.Empty(t, h.breaker.failures)
}

func TestExecuteBothRejected(t *testing.T) {
	h := newHarness(t, false)
	h.poly.fok = rejected("insufficient liquidity")
	h.kalshi.fok = rejected("price moved")

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecNotExecuted, rec.Status)
	assert.Empty(t, h.breaker.failures)
	assert.Empty(t, h.state.fills)
	assert.Empty(t, h.alerter.events)
	require.Len(t, h.execs.records, 1)
}

func TestExecuteAsymmetric(t *testing.T) {
	h := newHarness(t, false)
	h.poly.fok = filled(0.42, 50)
	h.kalshi.fok = rejected("price moved")

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, "asymmetric")

	// Breaker paused, critical alert, the filled leg recorded as a position.
	assert.Equal(t, []domain.FailureKind{domain.FailureAsymmetric}, h.breaker.failures)
	assert.True(t, h.breaker.paused)
	require.Len(t, h.alerter.events, 1)
	assert.Equal(t, "asymmetric_execution", h.alerter.events[0])
	assert.Equal(t, domain.SeverityCritical, h.alerter.sevs[0])
	require.Len(t, h.state.fills, 1)
	assert.Equal(t, domain.SideYes, h.state.fills[0].Side)
	assert.Len(t, h.posEvents.events, 1)
	// No daily counter increment for a failed trade.
	assert.Empty(t, h.state.trades)
}

func TestExecuteDryRun(t *testing.T) {
	h := newHarness(t, true)

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.True(t, rec.IsDryRun)
	assert.Equal(t, domain.ExecComplete, rec.Status)
	// 0.04 × 50 = 2.00 hypothetical profit.
	assert.InDelta(t, 2.0, rec.RealizedPnL, 1e-9)
	assert.InDelta(t, 2.0, h.state.hypoPnL, 1e-9)

	// The venues were never touched.
	assert.Zero(t, h.poly.fokCalls)
	assert.Zero(t, h.kalshi.fokCalls)
	assert.Empty(t, h.state.fills)
	assert.Empty(t, h.posEvents.events)
	require.Len(t, h.execs.records, 1)
	assert.True(t, h.execs.records[0].IsDryRun)
}

func TestExecuteExpiredOpportunity(t *testing.T) {
	h := newHarness(t, false)
	opp := engineOpp()
	opp.ExpiresAt = time.Now().Add(-time.Second)

	rec, err := h.engine.Execute(context.Background(), engineMapping, opp)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecNotExecuted, rec.Status)
	assert.Contains(t, rec.FailureReason, "expired")
	assert.Zero(t, h.poly.fokCalls)
}

func TestExecuteRiskRejected(t *testing.T) {
	h := newHarness(t, false)
	h.risk.decision = risk.Decision{Reasons: []string{"circuit breaker is paused"}}

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecNotExecuted, rec.Status)
	assert.Contains(t, rec.FailureReason, "risk rejected")
	assert.Zero(t, h.poly.fokCalls)
}

func TestExecuteSpreadGone(t *testing.T) {
	h := newHarness(t, false)
	h.detector.ok = false

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecNotExecuted, rec.Status)
	assert.Contains(t, rec.FailureReason, "spread gone")
	assert.Zero(t, h.poly.fokCalls)
}

func TestExecuteSlippageEnvelope(t *testing.T) {
	h := newHarness(t, false)
	// Fresh profit decayed past the 25% envelope: 0.04 → 0.02.
	decayed := engineOpp()
	decayed.NetProfitPerUnit = 0.02
	h.detector.opp = decayed

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecNotExecuted, rec.Status)
	assert.Zero(t, h.poly.fokCalls)
}

func TestExecuteDirectionFlip(t *testing.T) {
	h := newHarness(t, false)
	flipped := engineOpp()
	flipped.BuyVenue, flipped.SellVenue = flipped.SellVenue, flipped.BuyVenue
	h.detector.opp = flipped

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecNotExecuted, rec.Status)
	assert.Zero(t, h.poly.fokCalls)
}

func TestExecuteRevalidationFetchError(t *testing.T) {
	h := newHarness(t, false)
	h.poly.bookErr = domain.ErrTransient

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecNotExecuted, rec.Status)
	assert.Equal(t, []domain.FailureKind{domain.FailureExecution}, h.breaker.failures)
}

func TestExecuteTransportPlusRejected(t *testing.T) {
	h := newHarness(t, false)
	h.poly.fokErr = errors.New("connection reset")
	h.kalshi.fok = rejected("price moved")

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	// A lone transport error is treated as potentially filled: asymmetric.
	assert.Equal(t, domain.ExecFailed, rec.Status)
	assert.Equal(t, []domain.FailureKind{domain.FailureAsymmetric}, h.breaker.failures)
}

func TestExecuteBothTransportReconcilesToNoFills(t *testing.T) {
	h := newHarness(t, false)
	h.poly.fokErr = errors.New("timeout")
	h.kalshi.fokErr = errors.New("timeout")
	// Baseline and post-fire positions identical: nothing landed.
	h.poly.positions = [][]domain.VenuePosition{nil, nil}
	h.kalshi.positions = [][]domain.VenuePosition{nil, nil}

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecNotExecuted, rec.Status)
	assert.Contains(t, rec.FailureReason, "positions unchanged")
	assert.Empty(t, h.breaker.failures)
}

func TestExecuteBothTransportReconcilesToBothFilled(t *testing.T) {
	h := newHarness(t, false)
	h.poly.fokErr = errors.New("timeout")
	h.kalshi.fokErr = errors.New("timeout")
	h.poly.positions = [][]domain.VenuePosition{
		nil, // baseline
		{{Venue: domain.VenuePolymarket, Contract: "0xabc", Side: domain.SideYes, Quantity: 50}},
	}
	h.kalshi.positions = [][]domain.VenuePosition{
		nil,
		{{Venue: domain.VenueKalshi, Contract: "KXBTC", Side: domain.SideNo, Quantity: 50}},
	}

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecComplete, rec.Status)
	// Fill prices fall back to the requested prices.
	assert.Equal(t, 0.42, rec.BuyLeg.FillPrice)
	assert.Equal(t, 0.50, rec.SellLeg.FillPrice)
	assert.Len(t, h.state.fills, 2)
	assert.Empty(t, h.breaker.failures)
}

func TestExecuteBothTransportReconcilesToAsymmetric(t *testing.T) {
	h := newHarness(t, false)
	h.poly.fokErr = errors.New("timeout")
	h.kalshi.fokErr = errors.New("timeout")
	h.poly.positions = [][]domain.VenuePosition{
		nil,
		{{Venue: domain.VenuePolymarket, Contract: "0xabc", Side: domain.SideYes, Quantity: 50}},
	}
	h.kalshi.positions = [][]domain.VenuePosition{nil, nil}

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, "exactly one leg filled")
	assert.Equal(t, []domain.FailureKind{domain.FailureAsymmetric}, h.breaker.failures)
	// The confirmed leg lands in the ledger for human resolution.
	require.Len(t, h.state.fills, 1)
}

func TestExecuteBothTransportNoBaseline(t *testing.T) {
	h := newHarness(t, false)
	h.poly.fokErr = errors.New("timeout")
	h.kalshi.fokErr = errors.New("timeout")
	h.poly.posErr = domain.ErrTransient

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, "baseline")
	assert.Equal(t, []domain.FailureKind{domain.FailureAsymmetric}, h.breaker.failures)
}

func TestExecutePersistError(t *testing.T) {
	h := newHarness(t, true)
	h.execs.err = errors.New("db down")

	_, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.Error(t, err)
}

func TestExecuteDailyLossPausesTrading(t *testing.T) {
	h := newHarness(t, false)
	riskCfg := config.Defaults().Risk
	riskCfg.DailyLossLimit = 4
	h.build(false, riskCfg)

	// Both legs fill but the prices moved against us: (0.42 − 0.50) × 50 − 1.
	h.poly.fok = filled(0.50, 50)
	h.kalshi.fok = filled(0.42, 50)

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecComplete, rec.Status)
	assert.InDelta(t, -5.0, rec.RealizedPnL, 1e-9)

	// The breach stops trading immediately, not on the next risk check.
	assert.Equal(t, []domain.FailureKind{domain.FailureDailyLoss}, h.breaker.failures)
	assert.True(t, h.breaker.paused)
}

func TestExecuteDailyLossAccumulatesAcrossTrades(t *testing.T) {
	h := newHarness(t, false)
	riskCfg := config.Defaults().Risk
	riskCfg.DailyLossLimit = 8
	h.build(false, riskCfg)

	h.poly.fok = filled(0.50, 50)
	h.kalshi.fok = filled(0.42, 50)

	// First −5 trade stays under the limit; the second takes the day to −10.
	_, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Empty(t, h.breaker.failures)

	_, err = h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, []domain.FailureKind{domain.FailureDailyLoss}, h.breaker.failures)
}

func TestExecutePositionEventFailureDoesNotBlockTrade(t *testing.T) {
	h := newHarness(t, false)
	h.posEvents.err = errors.New("db down")
	h.poly.fok = filled(0.42, 50)
	h.kalshi.fok = filled(0.50, 50)

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecComplete, rec.Status)
	// Canonical state and the risk ledger still got both fills.
	assert.Len(t, h.state.fills, 2)
	assert.Len(t, h.risk.fills, 2)
}

func TestExecuteQtyClampedToFreshDepth(t *testing.T) {
	h := newHarness(t, true)
	shallow := engineOpp()
	shallow.MaxQty = 30
	h.detector.opp = shallow

	rec, err := h.engine.Execute(context.Background(), engineMapping, engineOpp())
	require.NoError(t, err)
	assert.Equal(t, 30.0, rec.Quantity)
}
