// Package risk gates every trade behind the configured hard limits and
// maintains the in-memory position ledger the checks run against.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// Decision is the outcome of pre-trade validation. A rejected decision
// carries at least one reason; warnings never block on their own.
type Decision struct {
	Approved     bool
	Reasons      []string
	Warnings     []string
	SuggestedQty float64
}

// pauseReader exposes the circuit-breaker flag to the validator.
type pauseReader interface {
	IsPaused() bool
}

// dailyReader exposes the daily counters to the validator.
type dailyReader interface {
	Daily() domain.DailyState
}

// Manager evaluates the ordered pre-trade checks and tracks positions in a
// ledger keyed by (venue, contract, side). The ledger is a denormalization of
// the state store's canonical position set and must equal it whenever the
// system is quiescent.
type Manager struct {
	cfg             config.RiskConfig
	profitThreshold float64
	liquidityFloor  float64
	breaker         pauseReader
	daily           dailyReader
	logger          *slog.Logger
	now             func() time.Time

	mu        sync.RWMutex
	positions map[ledgerKey]domain.Position
}

type ledgerKey struct {
	venue    domain.Venue
	contract string
	side     domain.PositionSide
}

// New builds a Manager. The arbitrage config supplies the profit threshold
// and liquidity floor shared with the detector.
func New(cfg config.RiskConfig, arb config.ArbitrageConfig, breaker pauseReader, daily dailyReader, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:             cfg,
		profitThreshold: arb.MinProfitThreshold,
		liquidityFloor:  arb.MinLiquidityDepth,
		breaker:         breaker,
		daily:           daily,
		logger:          logger.With(slog.String("component", "risk")),
		now:             time.Now,
		positions:       make(map[ledgerKey]domain.Position),
	}
}

// Validate runs the ordered checks against an opportunity and a proposed
// quantity. Evaluation stops at the first hard failure; the two advisory
// checks run only for approved trades.
func (m *Manager) Validate(opp domain.Opportunity, proposedQty float64) Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reject := func(format string, args ...any) Decision {
		return Decision{Reasons: []string{fmt.Sprintf(format, args...)}}
	}

	// 1. Circuit breaker.
	if m.breaker.IsPaused() {
		return reject("circuit breaker is paused")
	}

	// 2. Total exposure.
	total := m.totalExposureLocked()
	added := proposedQty * opp.BuyPrice
	if total+added > m.cfg.MaxTotalExposure {
		return reject("total exposure %.2f + %.2f exceeds limit %.2f", total, added, m.cfg.MaxTotalExposure)
	}

	// 3. Per-event exposure.
	event := m.eventExposureLocked(opp.MappingID)
	if event+added > m.cfg.MaxExposurePerEvent {
		return reject("event exposure %.2f + %.2f exceeds limit %.2f", event, added, m.cfg.MaxExposurePerEvent)
	}

	// 4. Position imbalance.
	inv := m.inventoryLocked(opp.MappingID)
	if inv.ImbalanceValue > m.cfg.MaxPositionImbalance {
		return reject("position imbalance %.2f exceeds limit %.2f", inv.ImbalanceValue, m.cfg.MaxPositionImbalance)
	}

	// 5. Daily loss limit.
	if pnl := m.daily.Daily().PnL; pnl < -m.cfg.DailyLossLimit {
		return reject("daily pnl %.2f below loss limit -%.2f", pnl, m.cfg.DailyLossLimit)
	}

	// 6. Profit threshold.
	if opp.NetProfitPerUnit/opp.BuyPrice < m.profitThreshold {
		return reject("net profit %.4f below threshold %.2f%% of price %.2f",
			opp.NetProfitPerUnit, m.profitThreshold*100, opp.BuyPrice)
	}

	// 7. Quantity bounds.
	if proposedQty < m.cfg.MinQtyPerTrade || proposedQty > m.cfg.MaxQtyPerTrade {
		return reject("quantity %.0f outside bounds [%.0f, %.0f]",
			proposedQty, m.cfg.MinQtyPerTrade, m.cfg.MaxQtyPerTrade)
	}

	// 8. Trade economics.
	if value := proposedQty * opp.BuyPrice; value < m.cfg.MinTradeValue {
		return reject("trade value %.2f below minimum %.2f", value, m.cfg.MinTradeValue)
	}
	if profit := proposedQty * opp.NetProfitPerUnit; profit < m.cfg.MinProfitAbs {
		return reject("expected profit %.2f below minimum %.2f", profit, m.cfg.MinProfitAbs)
	}

	d := Decision{Approved: true, SuggestedQty: proposedQty}

	// 9. Liquidity warning.
	if opp.MaxQty < m.liquidityFloor {
		d.Warnings = append(d.Warnings, fmt.Sprintf("available depth %.0f below liquidity floor %.0f", opp.MaxQty, m.liquidityFloor))
	}

	// 10. Execution-risk warning.
	if opp.ExecutionRisk > 0.5 {
		d.Warnings = append(d.Warnings, fmt.Sprintf("execution risk %.2f above 0.5", opp.ExecutionRisk))
	}
	return d
}

// OptimalQty sizes a trade: the smallest of both available depths, the
// opportunity cap, the per-trade cap, and what the remaining exposure budget
// affords, floored to a whole number of contracts and lower-bounded by the
// configured minimum.
func (m *Manager) OptimalQty(opp domain.Opportunity) float64 {
	m.mu.RLock()
	remainingTotal := m.cfg.MaxTotalExposure - m.totalExposureLocked()
	remainingEvent := m.cfg.MaxExposurePerEvent - m.eventExposureLocked(opp.MappingID)
	m.mu.RUnlock()

	remaining := remainingTotal
	if remainingEvent < remaining {
		remaining = remainingEvent
	}
	if remaining < 0 {
		remaining = 0
	}

	qty := opp.BuyQty
	for _, limit := range []float64{opp.SellQty, opp.MaxQty, m.cfg.MaxQtyPerTrade, remaining / opp.BuyPrice} {
		if limit < qty {
			qty = limit
		}
	}
	qty = math.Floor(qty)
	if qty < m.cfg.MinQtyPerTrade {
		qty = m.cfg.MinQtyPerTrade
	}
	return qty
}

// ApplyFill aggregates a position delta into the ledger.
func (m *Manager) ApplyFill(pos domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ledgerKey{pos.Venue, pos.Contract, pos.Side}
	existing, ok := m.positions[key]
	if !ok {
		if pos.Quantity > 0 {
			m.positions[key] = pos
		}
		return
	}

	total := existing.Quantity + pos.Quantity
	if total <= 0 {
		delete(m.positions, key)
		return
	}
	existing.AvgPrice = (existing.AvgPrice*existing.Quantity + pos.AvgPrice*pos.Quantity) / total
	existing.Quantity = total
	existing.UpdatedAt = m.now().UTC()
	if existing.MappingID == "" {
		existing.MappingID = pos.MappingID
	}
	m.positions[key] = existing
}

// Reconcile replaces the ledger atomically with an externally verified
// position set.
func (m *Manager) Reconcile(positions []domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[ledgerKey]domain.Position, len(positions))
	for _, p := range positions {
		if p.Quantity <= 0 {
			continue
		}
		m.positions[ledgerKey{p.Venue, p.Contract, p.Side}] = p
	}
}

// TotalExposure is the capital at risk across the whole ledger.
func (m *Manager) TotalExposure() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalExposureLocked()
}

func (m *Manager) totalExposureLocked() float64 {
	var total float64
	for _, p := range m.positions {
		total += p.Notional()
	}
	return total
}

// EventExposure is the capital at risk in one mapping's positions.
func (m *Manager) EventExposure(mappingID string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventExposureLocked(mappingID)
}

func (m *Manager) eventExposureLocked(mappingID string) float64 {
	var total float64
	for _, p := range m.positions {
		if p.MappingID == mappingID {
			total += p.Notional()
		}
	}
	return total
}

// Inventory derives the cross-venue holdings view for one mapping. The net
// position is yes quantity minus no quantity across both venues; its value is
// priced at the blended average cost of the mapping's positions.
func (m *Manager) Inventory(mappingID string) domain.Inventory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inventoryLocked(mappingID)
}

func (m *Manager) inventoryLocked(mappingID string) domain.Inventory {
	inv := domain.Inventory{MappingID: mappingID}
	var qtySum, notionalSum float64
	for _, p := range m.positions {
		if p.MappingID != mappingID {
			continue
		}
		qtySum += p.Quantity
		notionalSum += p.Notional()
		switch {
		case p.Venue == domain.VenuePolymarket && p.Side == domain.SideYes:
			inv.PolyYes += p.Quantity
		case p.Venue == domain.VenuePolymarket && p.Side == domain.SideNo:
			inv.PolyNo += p.Quantity
		case p.Venue == domain.VenueKalshi && p.Side == domain.SideYes:
			inv.KalshiYes += p.Quantity
		case p.Venue == domain.VenueKalshi && p.Side == domain.SideNo:
			inv.KalshiNo += p.Quantity
		}
	}
	inv.NetPosition = (inv.PolyYes + inv.KalshiYes) - (inv.PolyNo + inv.KalshiNo)
	if qtySum > 0 {
		avg := notionalSum / qtySum
		inv.ImbalanceValue = math.Abs(inv.NetPosition) * avg
	}
	inv.NeedsRebalance = inv.ImbalanceValue > m.cfg.MaxPositionImbalance
	return inv
}

// Positions returns the ledger contents.
func (m *Manager) Positions() []domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}
