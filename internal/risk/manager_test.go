package risk

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

type fakeBreaker struct{ paused bool }

func (f *fakeBreaker) IsPaused() bool { return f.paused }

type fakeDaily struct{ pnl float64 }

func (f *fakeDaily) Daily() domain.DailyState { return domain.DailyState{PnL: f.pnl} }

func testManager(t *testing.T) (*Manager, *fakeBreaker, *fakeDaily) {
	t.Helper()
	cfg := config.Defaults()
	br := &fakeBreaker{}
	daily := &fakeDaily{}
	return New(cfg.Risk, cfg.Arbitrage, br, daily, slog.Default()), br, daily
}

// goodOpp clears every default limit at qty 50.
func goodOpp() domain.Opportunity {
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
		EstFeesPerUnit:   0.0484,
		NetProfitPerUnit: 0.0316,
		MaxQty:           100,
		ExecutionRisk:    0.5,
		ExpiresAt:        time.Now().Add(5 * time.Second),
	}
}

func position(venue domain.Venue, contract, mappingID string, side domain.PositionSide, qty, price float64) domain.Position {
	return domain.Position{
		ID: contract + string(side), Venue: venue, Contract: contract,
		MappingID: mappingID, Side: side, Quantity: qty, AvgPrice: price,
	}
}

func TestValidateApproves(t *testing.T) {
	m, _, _ := testManager(t)

	d := m.Validate(goodOpp(), 50)
	assert.True(t, d.Approved)
	assert.Empty(t, d.Reasons)
	assert.Equal(t, 50.0, d.SuggestedQty)
}

func TestValidatePaused(t *testing.T) {
	m, br, _ := testManager(t)
	br.paused = true

	d := m.Validate(goodOpp(), 50)
	assert.False(t, d.Approved)
	require.Len(t, d.Reasons, 1)
	assert.Contains(t, d.Reasons[0], "circuit breaker")
}

func TestValidateTotalExposure(t *testing.T) {
	m, _, _ := testManager(t)
	// 980 of the 1000 budget already committed.
	m.ApplyFill(position(domain.VenueKalshi, "KXOTHER", "map-2", domain.SideYes, 1400, 0.70))

	d := m.Validate(goodOpp(), 50) // adds 21.00
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons[0], "total exposure")
}

func TestValidateEventExposure(t *testing.T) {
	m, _, _ := testManager(t)
	// 240 of the 250 per-event budget on this mapping.
	m.ApplyFill(position(domain.VenuePolymarket, "0xabc", "map-1", domain.SideYes, 600, 0.40))

	d := m.Validate(goodOpp(), 50)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons[0], "event exposure")
}

func TestValidateImbalance(t *testing.T) {
	m, _, _ := testManager(t)
	// 150 unhedged yes contracts at 0.40: imbalance value 60 > limit 50.
	m.ApplyFill(position(domain.VenuePolymarket, "0xabc", "map-1", domain.SideYes, 150, 0.40))

	d := m.Validate(goodOpp(), 5)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons[0], "imbalance")
}

func TestValidateDailyLoss(t *testing.T) {
	m, _, daily := testManager(t)
	daily.pnl = -150

	d := m.Validate(goodOpp(), 50)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons[0], "daily pnl")
}

func TestValidateProfitThreshold(t *testing.T) {
	m, _, _ := testManager(t)
	opp := goodOpp()
	opp.NetProfitPerUnit = 0.01 // 2.4% of 0.42, threshold is 3%

	d := m.Validate(opp, 50)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons[0], "threshold")
}

func TestValidateQuantityBounds(t *testing.T) {
	m, _, _ := testManager(t)

	d := m.Validate(goodOpp(), 2)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons[0], "outside bounds")

	d = m.Validate(goodOpp(), 500)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons[0], "outside bounds")
}

func TestValidateTradeEconomics(t *testing.T) {
	m, _, _ := testManager(t)

	// 10 × 0.42 = 4.20 < min_trade_value 5.
	opp := goodOpp()
	d := m.Validate(opp, 10)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons[0], "trade value")

	// Value clears but absolute profit does not: 13 × 0.42 = 5.46,
	// 13 × 0.03 = 0.39 < min_profit_abs 0.50.
	opp.NetProfitPerUnit = 0.03
	opp.EstFeesPerUnit = opp.GrossSpread - opp.NetProfitPerUnit
	d = m.Validate(opp, 13)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reasons[0], "expected profit")
}

func TestValidateWarningsNonBlocking(t *testing.T) {
	m, _, _ := testManager(t)

	opp := goodOpp()
	opp.ExecutionRisk = 0.8
	opp.MaxQty = 40 // below the floor of 50, qty itself still fine
	d := m.Validate(opp, 30)
	// 30 × 0.42 = 12.60 value, 30 × 0.0316 = 0.948 profit: both clear.
	assert.True(t, d.Approved)
	require.Len(t, d.Warnings, 2)
	assert.Contains(t, d.Warnings[0], "liquidity floor")
	assert.Contains(t, d.Warnings[1], "execution risk")
}

func TestOptimalQty(t *testing.T) {
	m, _, _ := testManager(t)

	// Fresh ledger: remaining exposure 1000/0.42 ≈ 2380, so the per-trade
	// cap of 200 binds first... but available depth binds before that.
	qty := m.OptimalQty(goodOpp())
	assert.Equal(t, 100.0, qty)

	// Exposure budget binds once positions accumulate.
	m.ApplyFill(position(domain.VenueKalshi, "KXOTHER", "map-2", domain.SideYes, 1300, 0.70)) // 910 committed
	qty = m.OptimalQty(goodOpp())
	// floor((1000-910)/0.42) = floor(214.28...) capped at 214 → depth 100
	// still smaller? No: remaining 90/0.42 = 214.2 ≥ 100, so depth binds.
	assert.Equal(t, 100.0, qty)

	m.ApplyFill(position(domain.VenueKalshi, "KXOTHER2", "map-3", domain.SideYes, 100, 0.60)) // 970 committed
	qty = m.OptimalQty(goodOpp())
	assert.Equal(t, 71.0, qty) // floor(30/0.42) = 71
}

func TestOptimalQtyLowerBound(t *testing.T) {
	m, _, _ := testManager(t)

	opp := goodOpp()
	opp.BuyQty, opp.SellQty, opp.MaxQty = 2, 2, 2
	// Depth below the minimum: the result is clamped up to min_qty and the
	// validator rejects it downstream.
	assert.Equal(t, m.cfg.MinQtyPerTrade, m.OptimalQty(opp))
}

func TestApplyFillAggregatesLedger(t *testing.T) {
	m, _, _ := testManager(t)

	m.ApplyFill(position(domain.VenuePolymarket, "0xabc", "map-1", domain.SideYes, 100, 0.40))
	m.ApplyFill(position(domain.VenuePolymarket, "0xabc", "map-1", domain.SideYes, 100, 0.50))

	positions := m.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, 200.0, positions[0].Quantity)
	assert.InDelta(t, 0.45, positions[0].AvgPrice, 1e-9)
	assert.InDelta(t, 90.0, m.TotalExposure(), 1e-9)
}

func TestLedgerExposureInvariant(t *testing.T) {
	m, _, _ := testManager(t)

	fills := []domain.Position{
		position(domain.VenuePolymarket, "0xabc", "map-1", domain.SideYes, 100, 0.40),
		position(domain.VenueKalshi, "KXBTC", "map-1", domain.SideNo, 100, 0.50),
		position(domain.VenuePolymarket, "0xdef", "map-2", domain.SideYes, 50, 0.30),
		position(domain.VenuePolymarket, "0xabc", "map-1", domain.SideYes, -40, 0.40),
	}
	for _, f := range fills {
		m.ApplyFill(f)
	}

	var want float64
	for _, p := range m.Positions() {
		want += p.Quantity * p.AvgPrice
	}
	assert.InDelta(t, want, m.TotalExposure(), 1e-9)
}

func TestReconcileReplacesLedger(t *testing.T) {
	m, _, _ := testManager(t)
	m.ApplyFill(position(domain.VenuePolymarket, "0xabc", "map-1", domain.SideYes, 100, 0.40))

	truth := []domain.Position{
		position(domain.VenueKalshi, "KXBTC", "map-1", domain.SideNo, 60, 0.50),
	}
	m.Reconcile(truth)

	positions := m.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, domain.VenueKalshi, positions[0].Venue)
	assert.InDelta(t, 30.0, m.TotalExposure(), 1e-9)
}

func TestInventory(t *testing.T) {
	m, _, _ := testManager(t)

	// A hedged pair: 100 yes on Polymarket, 100 no on Kalshi.
	m.ApplyFill(position(domain.VenuePolymarket, "0xabc", "map-1", domain.SideYes, 100, 0.42))
	m.ApplyFill(position(domain.VenueKalshi, "KXBTC", "map-1", domain.SideNo, 100, 0.50))

	inv := m.Inventory("map-1")
	assert.Equal(t, 100.0, inv.PolyYes)
	assert.Equal(t, 100.0, inv.KalshiNo)
	assert.Zero(t, inv.NetPosition)
	assert.Zero(t, inv.ImbalanceValue)
	assert.False(t, inv.NeedsRebalance)

	// An extra unhedged leg creates imbalance.
	m.ApplyFill(position(domain.VenuePolymarket, "0xabc", "map-1", domain.SideYes, 200, 0.42))
	inv = m.Inventory("map-1")
	assert.Equal(t, 200.0, inv.NetPosition)
	assert.True(t, inv.NeedsRebalance)
}
