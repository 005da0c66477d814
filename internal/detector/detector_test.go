package detector

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

func makeBook(venue domain.Venue, contract string, bid, bidSize, ask, askSize float64) domain.OrderBook {
	b := domain.OrderBook{
		Venue:     venue,
		Contract:  contract,
		Timestamp: time.Now().UTC(),
	}
	if bidSize > 0 {
		b.Bids = []domain.PriceLevel{{Price: bid, Size: bidSize}}
	}
	if askSize > 0 {
		b.Asks = []domain.PriceLevel{{Price: ask, Size: askSize}}
	}
	return b
}

func testDetector(t *testing.T) *Detector {
	t.Helper()
	cfg := config.Defaults()
	return New(cfg.Arbitrage, NewFeeModel(cfg.Fees), slog.Default())
}

var testMapping = domain.EventMapping{
	ID:             "map-1",
	PolyContract:   "0xabc",
	KalshiContract: "KXBTC",
	Confidence:     1.0,
	Active:         true,
}

func TestDetectHappyPath(t *testing.T) {
	d := testDetector(t)

	poly := makeBook(domain.VenuePolymarket, "0xabc", 0.40, 100, 0.42, 100)
	kalshi := makeBook(domain.VenueKalshi, "KXBTC", 0.50, 100, 0.52, 100)

	opp, ok := d.Detect(testMapping, poly, kalshi)
	require.True(t, ok)
	assert.Equal(t, domain.VenuePolymarket, opp.BuyVenue)
	assert.Equal(t, 0.42, opp.BuyPrice)
	assert.Equal(t, domain.VenueKalshi, opp.SellVenue)
	assert.Equal(t, 0.50, opp.SellPrice)
	assert.InDelta(t, 0.08, opp.GrossSpread, 1e-9)
	assert.Equal(t, 100.0, opp.MaxQty)
	assert.Equal(t, "map-1", opp.MappingID)
	assert.Equal(t, opp.GrossSpread-opp.EstFeesPerUnit, opp.NetProfitPerUnit)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), opp.ExpiresAt, time.Second)

	// Fee terms: 2% taker on the 0.42 buy, 7% of (1-0.50) on the Kalshi
	// sell, and $0.50 gas over 100 contracts.
	assert.InDelta(t, 0.02*0.42+0.07*0.50+0.50/100, opp.EstFeesPerUnit, 1e-9)
}

func TestDetectBelowThreshold(t *testing.T) {
	d := testDetector(t)

	poly := makeBook(domain.VenuePolymarket, "0xabc", 0.46, 100, 0.48, 100)
	kalshi := makeBook(domain.VenueKalshi, "KXBTC", 0.49, 100, 0.51, 100)

	_, ok := d.Detect(testMapping, poly, kalshi)
	assert.False(t, ok)
}

func TestDetectThinLiquidity(t *testing.T) {
	d := testDetector(t)

	poly := makeBook(domain.VenuePolymarket, "0xabc", 0.40, 10, 0.42, 10)
	kalshi := makeBook(domain.VenueKalshi, "KXBTC", 0.50, 10, 0.52, 10)

	_, ok := d.Detect(testMapping, poly, kalshi)
	assert.False(t, ok)
}

func TestDetectDirectionB(t *testing.T) {
	d := testDetector(t)

	// Kalshi's ask sits below Polymarket's bid: buy Kalshi, sell Polymarket.
	poly := makeBook(domain.VenuePolymarket, "0xabc", 0.50, 100, 0.52, 100)
	kalshi := makeBook(domain.VenueKalshi, "KXBTC", 0.38, 100, 0.40, 100)

	opp, ok := d.Detect(testMapping, poly, kalshi)
	require.True(t, ok)
	assert.Equal(t, domain.VenueKalshi, opp.BuyVenue)
	assert.Equal(t, 0.40, opp.BuyPrice)
	assert.Equal(t, domain.VenuePolymarket, opp.SellVenue)
	assert.Equal(t, 0.50, opp.SellPrice)
}

func TestDetectNoCross(t *testing.T) {
	d := testDetector(t)

	poly := makeBook(domain.VenuePolymarket, "0xabc", 0.48, 100, 0.50, 100)
	kalshi := makeBook(domain.VenueKalshi, "KXBTC", 0.49, 100, 0.51, 100)

	_, ok := d.Detect(testMapping, poly, kalshi)
	assert.False(t, ok)
}

func TestDetectEmptySide(t *testing.T) {
	d := testDetector(t)

	poly := makeBook(domain.VenuePolymarket, "0xabc", 0, 0, 0.42, 100)
	kalshi := makeBook(domain.VenueKalshi, "KXBTC", 0.50, 100, 0, 0)

	opp, ok := d.Detect(testMapping, poly, kalshi)
	require.True(t, ok)
	assert.Equal(t, domain.VenuePolymarket, opp.BuyVenue)

	// Both interesting sides empty: nothing to trade.
	_, ok = d.Detect(testMapping,
		makeBook(domain.VenuePolymarket, "0xabc", 0.40, 100, 0, 0),
		makeBook(domain.VenueKalshi, "KXBTC", 0, 0, 0.52, 100))
	assert.False(t, ok)
}

func TestDetectDegeneratePrices(t *testing.T) {
	d := testDetector(t)

	// A zero-price ask crosses any bid but is untradable.
	poly := makeBook(domain.VenuePolymarket, "0xabc", 0, 0, 0.0, 100)
	poly.Asks = []domain.PriceLevel{{Price: 0, Size: 100}}
	kalshi := makeBook(domain.VenueKalshi, "KXBTC", 0.50, 100, 0, 0)

	_, ok := d.Detect(testMapping, poly, kalshi)
	assert.False(t, ok)
}

func TestDetectMaxQtyIsMinOfSides(t *testing.T) {
	d := testDetector(t)

	poly := makeBook(domain.VenuePolymarket, "0xabc", 0.40, 100, 0.42, 80)
	kalshi := makeBook(domain.VenueKalshi, "KXBTC", 0.50, 60, 0.52, 100)

	opp, ok := d.Detect(testMapping, poly, kalshi)
	require.True(t, ok)
	assert.Equal(t, 60.0, opp.MaxQty)
	assert.Equal(t, 80.0, opp.BuyQty)
	assert.Equal(t, 60.0, opp.SellQty)
}

func TestExecutionRisk(t *testing.T) {
	d := testDetector(t) // min_liquidity_depth = 50

	assert.Equal(t, 1.0, d.executionRisk(50))
	assert.Equal(t, 0.5, d.executionRisk(100))
	assert.InDelta(t, 0.25, d.executionRisk(200), 1e-9)
	assert.Equal(t, 1.0, d.executionRisk(10))
}

func TestOpportunityCache(t *testing.T) {
	d := testDetector(t)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := base
	d.now = func() time.Time { return now }

	poly := makeBook(domain.VenuePolymarket, "0xabc", 0.40, 100, 0.42, 100)
	kalshi := makeBook(domain.VenueKalshi, "KXBTC", 0.50, 100, 0.52, 100)

	opp, ok := d.Detect(testMapping, poly, kalshi)
	require.True(t, ok)

	cached, ok := d.Last("map-1")
	require.True(t, ok)
	assert.Equal(t, opp.ID, cached.ID)

	// Past the TTL the cached entry is invisible at read time.
	now = base.Add(6 * time.Second)
	_, ok = d.Last("map-1")
	assert.False(t, ok)

	// And the sweep removes it.
	d.ClearExpired()
	d.mu.Lock()
	assert.Empty(t, d.last)
	d.mu.Unlock()
}

func TestFeeModelTotal(t *testing.T) {
	fees := NewFeeModel(config.Defaults().Fees)

	// Buy Polymarket at 0.42, sell Kalshi at 0.50, 100 contracts.
	total := fees.Total(domain.VenuePolymarket, domain.VenueKalshi, 0.42, 0.50, 100)
	assert.InDelta(t, (0.02*0.42+0.07*0.50)*100+0.50, total, 1e-9)

	// PerUnit times qty equals Total.
	perUnit := fees.PerUnit(domain.VenuePolymarket, domain.VenueKalshi, 0.42, 0.50, 100)
	assert.InDelta(t, total, perUnit*100, 1e-9)
}

func TestFeeModelKalshiCap(t *testing.T) {
	cfg := config.Defaults().Fees
	cfg.KalshiFeeRate = 0.20
	capped := NewFeeModel(cfg)

	got := capped.legFees(domain.VenuePolymarket, domain.VenueKalshi, 0.42, 0.50)
	f, _ := got.Float64()
	// 0.20 × (1 − 0.50) = 0.10 caps at 0.07, plus the Polymarket buy term.
	assert.InDelta(t, 0.07+0.02*0.42, f, 1e-9)
}

func TestFeeModelSellOnPolymarket(t *testing.T) {
	fees := NewFeeModel(config.Defaults().Fees)

	// Buy Kalshi (no fee), sell Polymarket: taker fee on the winning payout.
	perUnit := fees.PerUnit(domain.VenueKalshi, domain.VenuePolymarket, 0.40, 0.50, 100)
	assert.InDelta(t, 0.02*(1-0.50)+0.50/100, perUnit, 1e-9)
}
