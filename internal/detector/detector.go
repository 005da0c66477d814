// Package detector computes arbitrage opportunities from paired top-of-book
// snapshots. Detection is pure apart from the short-lived per-mapping
// opportunity cache.
package detector

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// Detector evaluates both trade directions over a mapped contract pair and
// emits a time-bounded Opportunity when one clears the profit threshold net
// of fees.
type Detector struct {
	cfg    config.ArbitrageConfig
	fees   FeeModel
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last map[string]domain.Opportunity // mapping ID -> last emitted opportunity
}

// New builds a Detector.
func New(cfg config.ArbitrageConfig, fees FeeModel, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		fees:   fees,
		logger: logger.With(slog.String("component", "detector")),
		now:    time.Now,
		last:   make(map[string]domain.Opportunity),
	}
}

// direction is one candidate trade direction under evaluation.
type direction struct {
	buyVenue  domain.Venue
	buyPrice  float64
	buyQty    float64
	sellVenue domain.Venue
	sellPrice float64
	sellQty   float64
}

// Detect evaluates the pair of books for mapping and returns an opportunity
// when either direction is profitable net of fees. When both directions
// qualify, the one with greater total expected profit wins. The returned
// opportunity is also cached per mapping until its TTL lapses.
func (d *Detector) Detect(mapping domain.EventMapping, polyBook, kalshiBook domain.OrderBook) (domain.Opportunity, bool) {
	polyBid, polyHasBid := polyBook.BestBid()
	polyAsk, polyHasAsk := polyBook.BestAsk()
	kalshiBid, kalshiHasBid := kalshiBook.BestBid()
	kalshiAsk, kalshiHasAsk := kalshiBook.BestAsk()

	var candidates []domain.Opportunity

	// Direction A: buy Polymarket at its ask, sell Kalshi at its bid.
	if polyHasAsk && kalshiHasBid && polyAsk.Price < kalshiBid.Price {
		if opp, ok := d.evaluate(mapping, direction{
			buyVenue: domain.VenuePolymarket, buyPrice: polyAsk.Price, buyQty: polyAsk.Size,
			sellVenue: domain.VenueKalshi, sellPrice: kalshiBid.Price, sellQty: kalshiBid.Size,
		}); ok {
			candidates = append(candidates, opp)
		}
	}

	// Direction B: buy Kalshi at its ask, sell Polymarket at its bid.
	if kalshiHasAsk && polyHasBid && kalshiAsk.Price < polyBid.Price {
		if opp, ok := d.evaluate(mapping, direction{
			buyVenue: domain.VenueKalshi, buyPrice: kalshiAsk.Price, buyQty: kalshiAsk.Size,
			sellVenue: domain.VenuePolymarket, sellPrice: polyBid.Price, sellQty: polyBid.Size,
		}); ok {
			candidates = append(candidates, opp)
		}
	}

	if len(candidates) == 0 {
		return domain.Opportunity{}, false
	}

	best := candidates[0]
	if len(candidates) == 2 && candidates[1].Value() > best.Value() {
		best = candidates[1]
	}

	d.mu.Lock()
	d.last[mapping.ID] = best
	d.mu.Unlock()

	d.logger.Debug("opportunity detected",
		slog.String("mapping_id", mapping.ID),
		slog.String("buy_venue", string(best.BuyVenue)),
		slog.Float64("buy_price", best.BuyPrice),
		slog.Float64("sell_price", best.SellPrice),
		slog.Float64("net_per_unit", best.NetProfitPerUnit),
		slog.Float64("max_qty", best.MaxQty))
	return best, true
}

// evaluate prices one direction and applies the profitability and liquidity
// filters.
func (d *Detector) evaluate(mapping domain.EventMapping, dir direction) (domain.Opportunity, bool) {
	// Degenerate prices at the book edges are untradable.
	if dir.buyPrice <= 0 || dir.buyPrice >= 1 || dir.sellPrice <= 0 || dir.sellPrice >= 1 {
		return domain.Opportunity{}, false
	}

	maxQty := dir.buyQty
	if dir.sellQty < maxQty {
		maxQty = dir.sellQty
	}
	if maxQty < d.cfg.MinLiquidityDepth {
		return domain.Opportunity{}, false
	}

	gross := dir.sellPrice - dir.buyPrice
	fees := d.fees.PerUnit(dir.buyVenue, dir.sellVenue, dir.buyPrice, dir.sellPrice, maxQty)
	net := gross - fees
	if net <= d.cfg.MinProfitThreshold*dir.buyPrice {
		return domain.Opportunity{}, false
	}

	now := d.now().UTC()
	return domain.Opportunity{
		ID:        uuid.NewString(),
		MappingID: mapping.ID,
		CreatedAt: now,

		BuyVenue:  dir.buyVenue,
		BuyPrice:  dir.buyPrice,
		BuyQty:    dir.buyQty,
		SellVenue: dir.sellVenue,
		SellPrice: dir.sellPrice,
		SellQty:   dir.sellQty,

		GrossSpread:      gross,
		EstFeesPerUnit:   fees,
		NetProfitPerUnit: net,
		MaxQty:           maxQty,

		ExecutionRisk: d.executionRisk(maxQty),
		ExpiresAt:     now.Add(time.Duration(d.cfg.OpportunityTTLMs) * time.Millisecond),
	}, true
}

// executionRisk shrinks toward 0 as available depth grows past the liquidity
// floor, and saturates at 1 when depth is at or below the floor.
func (d *Detector) executionRisk(maxQty float64) float64 {
	if d.cfg.MinLiquidityDepth <= 0 || maxQty <= 0 {
		return 0
	}
	risk := d.cfg.MinLiquidityDepth / maxQty
	if risk > 1 {
		risk = 1
	}
	return risk
}

// Last returns the cached opportunity for a mapping, re-checking expiry at
// read time.
func (d *Detector) Last(mappingID string) (domain.Opportunity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	opp, ok := d.last[mappingID]
	if !ok || opp.Expired(d.now()) {
		return domain.Opportunity{}, false
	}
	return opp, true
}

// ClearExpired sweeps lapsed entries from the opportunity cache.
func (d *Detector) ClearExpired() {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, opp := range d.last {
		if opp.Expired(now) {
			delete(d.last, id)
		}
	}
}
