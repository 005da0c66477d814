// Package engine orchestrates two-leg fill-or-kill execution: validation,
// revalidation against fresh books, parallel firing, outcome classification,
// and the reconciliation path for transport-ambiguous results.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
	"github.com/crossclob/arbot/internal/risk"
)

// ModeProvider reports whether the process is in dry-run mode. The operator
// can flip this at runtime, so the engine asks on every execution.
type ModeProvider interface {
	DryRun() bool
}

// riskManager is the slice of the risk manager the engine consumes.
type riskManager interface {
	Validate(opp domain.Opportunity, proposedQty float64) risk.Decision
	OptimalQty(opp domain.Opportunity) float64
	ApplyFill(pos domain.Position)
}

// circuitBreaker is the slice of the breaker the engine consumes.
type circuitBreaker interface {
	IsPaused() bool
	RecordFailure(ctx context.Context, kind domain.FailureKind) error
	RecordSuccess()
}

// stateStore is the slice of the state store the engine consumes.
type stateStore interface {
	RecordTrade(realizedPnL, volume float64)
	Daily() domain.DailyState
	ApplyFill(venue domain.Venue, contract, mappingID string, side domain.PositionSide, qty, price float64) domain.Position
	AddHypotheticalPnL(delta float64)
	Snapshot() error
}

// bookDetector recomputes an opportunity from fresh books during
// revalidation.
type bookDetector interface {
	Detect(mapping domain.EventMapping, polyBook, kalshiBook domain.OrderBook) (domain.Opportunity, bool)
}

// Engine owns trade atomicity. Executions for the same mapping are strictly
// serialized by a per-mapping mutex; different mappings may execute
// concurrently.
type Engine struct {
	cfg       config.ExecutionConfig
	mode      ModeProvider
	adapters  map[domain.Venue]domain.VenueAdapter
	risk      riskManager
	breaker   circuitBreaker
	state     stateStore
	detector  bookDetector
	execs     domain.ExecutionStore
	posEvents domain.PositionEventStore
	alerter   domain.Alerter
	logger    *slog.Logger
	now       func() time.Time

	// dailyLossLimit stops trading for the day once realized losses reach it.
	dailyLossLimit float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an Engine.
func New(
	cfg config.ExecutionConfig,
	riskCfg config.RiskConfig,
	mode ModeProvider,
	adapters map[domain.Venue]domain.VenueAdapter,
	riskMgr riskManager,
	cb circuitBreaker,
	st stateStore,
	det bookDetector,
	execs domain.ExecutionStore,
	posEvents domain.PositionEventStore,
	alerter domain.Alerter,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:            cfg,
		mode:           mode,
		adapters:       adapters,
		risk:           riskMgr,
		breaker:        cb,
		state:          st,
		detector:       det,
		execs:          execs,
		posEvents:      posEvents,
		alerter:        alerter,
		logger:         logger.With(slog.String("component", "engine")),
		now:            time.Now,
		dailyLossLimit: riskCfg.DailyLossLimit,
		locks:          make(map[string]*sync.Mutex),
	}
}

// mappingLock returns the mutex serializing executions for one mapping.
func (e *Engine) mappingLock(mappingID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[mappingID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[mappingID] = l
	}
	return l
}

// Execute runs one execution attempt for an opportunity. It always returns
// the durable record written for the attempt; the error is non-nil only when
// the attempt could not even be recorded.
func (e *Engine) Execute(ctx context.Context, mapping domain.EventMapping, opp domain.Opportunity) (domain.ExecutionRecord, error) {
	lock := e.mappingLock(mapping.ID)
	lock.Lock()
	defer lock.Unlock()

	rec := domain.ExecutionRecord{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID,
		MappingID:     mapping.ID,
		IsDryRun:      e.mode.DryRun(),
		StartedAt:     e.now().UTC(),
	}

	// Validate.
	if opp.Expired(e.now()) {
		return e.finishNotExecuted(ctx, rec, "opportunity expired before execution")
	}
	qty := e.risk.OptimalQty(opp)
	decision := e.risk.Validate(opp, qty)
	if !decision.Approved {
		return e.finishNotExecuted(ctx, rec, fmt.Sprintf("risk rejected: %v", decision.Reasons))
	}
	qty = decision.SuggestedQty
	for _, w := range decision.Warnings {
		e.logger.Warn("risk warning", slog.String("mapping_id", mapping.ID), slog.String("warning", w))
	}

	// Revalidate against fresh books.
	fresh, err := e.revalidate(ctx, mapping, opp)
	if err != nil {
		if cbErr := e.breaker.RecordFailure(ctx, domain.FailureExecution); cbErr != nil {
			e.logger.Error("record failure", slog.String("error", cbErr.Error()))
		}
		return e.finishNotExecuted(ctx, rec, fmt.Sprintf("revalidation failed: %v", err))
	}
	if fresh == nil {
		return e.finishNotExecuted(ctx, rec, "spread gone on revalidation")
	}
	if fresh.MaxQty < qty {
		qty = fresh.MaxQty
	}
	rec.Quantity = qty

	// Dry-run short-circuit: synthesize fills, never touch the venues.
	if rec.IsDryRun {
		return e.finishDryRun(ctx, rec, *fresh, qty)
	}

	return e.fire(ctx, rec, mapping, *fresh, qty)
}

// revalidate refetches both books and recomputes the opportunity. It returns
// nil when the spread has vanished, moved to the other direction, or decayed
// past the slippage envelope.
func (e *Engine) revalidate(ctx context.Context, mapping domain.EventMapping, opp domain.Opportunity) (*domain.Opportunity, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.OrderbookFetchMaxMs)*time.Millisecond)
	defer cancel()

	var polyBook, kalshiBook domain.OrderBook
	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		var err error
		polyBook, err = e.adapters[domain.VenuePolymarket].GetOrderBook(gctx, mapping.PolyContract)
		return err
	})
	g.Go(func() error {
		var err error
		kalshiBook, err = e.adapters[domain.VenueKalshi].GetOrderBook(gctx, mapping.KalshiContract)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("refetch books: %w", err)
	}

	fresh, ok := e.detector.Detect(mapping, polyBook, kalshiBook)
	if !ok {
		return nil, nil
	}
	if fresh.BuyVenue != opp.BuyVenue {
		return nil, nil
	}
	if fresh.NetProfitPerUnit < opp.NetProfitPerUnit*(1-e.cfg.MaxSlippage) {
		return nil, nil
	}
	return &fresh, nil
}

// finishNotExecuted persists a not-executed record.
func (e *Engine) finishNotExecuted(ctx context.Context, rec domain.ExecutionRecord, reason string) (domain.ExecutionRecord, error) {
	rec.Status = domain.ExecNotExecuted
	rec.FailureReason = reason
	rec.CompletedAt = e.now().UTC()
	e.logger.Info("execution not performed",
		slog.String("execution_id", rec.ID),
		slog.String("mapping_id", rec.MappingID),
		slog.String("reason", reason))
	return rec, e.persist(ctx, rec)
}

// finishDryRun synthesizes a successful two-leg fill at the revalidated
// prices and optionally tracks hypothetical profit.
func (e *Engine) finishDryRun(ctx context.Context, rec domain.ExecutionRecord, opp domain.Opportunity, qty float64) (domain.ExecutionRecord, error) {
	now := e.now().UTC()
	rec.BuyLeg = domain.LegResult{
		Venue:     opp.BuyVenue,
		Side:      domain.OrderSideBuy,
		Outcome:   domain.OutcomeFilled,
		ReqPrice:  opp.BuyPrice,
		FillPrice: opp.BuyPrice,
		FillQty:   qty,
	}
	rec.SellLeg = domain.LegResult{
		Venue:     opp.SellVenue,
		Side:      domain.OrderSideSell,
		Outcome:   domain.OutcomeFilled,
		ReqPrice:  opp.SellPrice,
		FillPrice: opp.SellPrice,
		FillQty:   qty,
	}
	rec.Status = domain.ExecComplete
	rec.RealizedPnL = opp.NetProfitPerUnit * qty
	rec.CompletedAt = now

	if e.cfg.TrackHypotheticalPnL {
		e.state.AddHypotheticalPnL(rec.RealizedPnL)
	}
	e.logger.Info("dry-run execution",
		slog.String("execution_id", rec.ID),
		slog.String("mapping_id", rec.MappingID),
		slog.Float64("qty", qty),
		slog.Float64("hypothetical_pnl", rec.RealizedPnL))
	return rec, e.persist(ctx, rec)
}

// fire submits both FOK legs concurrently, waits for both outcomes, and
// classifies the result. It never returns before both legs have resolved.
func (e *Engine) fire(ctx context.Context, rec domain.ExecutionRecord, mapping domain.EventMapping, opp domain.Opportunity, qty float64) (domain.ExecutionRecord, error) {
	buyAdapter := e.adapters[opp.BuyVenue]
	sellAdapter := e.adapters[opp.SellVenue]

	// Baseline venue positions, captured before firing so a both-transport
	// outcome can be reconciled by delta.
	baseline := e.captureBaseline(ctx, mapping, opp)

	buyReq := domain.OrderRequest{
		Contract: mapping.ContractOn(opp.BuyVenue),
		Side:     domain.OrderSideBuy,
		Price:    opp.BuyPrice,
		Quantity: qty,
	}
	sellReq := domain.OrderRequest{
		Contract: mapping.ContractOn(opp.SellVenue),
		Side:     domain.OrderSideSell,
		Price:    opp.SellPrice,
		Quantity: qty,
	}

	fireStart := e.now()
	var wg sync.WaitGroup
	var buyLeg, sellLeg domain.LegResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		buyLeg = e.placeLeg(ctx, buyAdapter, buyReq)
	}()
	go func() {
		defer wg.Done()
		sellLeg = e.placeLeg(ctx, sellAdapter, sellReq)
	}()
	wg.Wait()

	if elapsed := e.now().Sub(fireStart); elapsed > time.Duration(e.cfg.EndToEndMaxMs)*time.Millisecond {
		e.logger.Warn("execution exceeded latency budget",
			slog.String("execution_id", rec.ID),
			slog.Duration("elapsed", elapsed))
	}

	rec.BuyLeg = buyLeg
	rec.SellLeg = sellLeg
	return e.classify(ctx, rec, mapping, opp, qty, baseline)
}

// placeLeg submits one leg with the per-placement deadline. A response that
// arrives after the deadline, an adapter error, or a missing response all
// collapse to a transport outcome: the order may or may not rest on the
// venue.
func (e *Engine) placeLeg(ctx context.Context, adapter domain.VenueAdapter, req domain.OrderRequest) domain.LegResult {
	maxLatency := time.Duration(e.cfg.OrderPlacementMaxMs) * time.Millisecond
	legCtx, cancel := context.WithTimeout(ctx, maxLatency)
	defer cancel()

	start := e.now()
	res, err := adapter.PlaceFOK(legCtx, req)
	latency := e.now().Sub(start)

	leg := domain.LegResult{
		Venue:     adapter.Venue(),
		Side:      req.Side,
		Contract:  req.Contract,
		ReqPrice:  req.Price,
		LatencyMs: latency.Milliseconds(),
	}
	switch {
	case err != nil:
		leg.Outcome = domain.OutcomeTransport
		leg.Detail = err.Error()
	case latency > maxLatency:
		// A late answer is not trusted even if it claims a clean outcome.
		leg.Outcome = domain.OutcomeTransport
		leg.Detail = fmt.Sprintf("placement latency %s exceeded %s", latency, maxLatency)
	default:
		leg.Outcome = res.Outcome
		leg.OrderID = res.OrderID
		leg.FillPrice = res.FillPrice
		leg.FillQty = res.FillQty
		leg.FeesUSD = res.FeesUSD
		leg.Detail = res.Reason
	}
	return leg
}

// classify maps the pair of leg outcomes to a terminal execution status and
// applies every side effect of that status.
func (e *Engine) classify(ctx context.Context, rec domain.ExecutionRecord, mapping domain.EventMapping, opp domain.Opportunity, qty float64, baseline *baselinePositions) (domain.ExecutionRecord, error) {
	buy, sell := rec.BuyLeg.Outcome, rec.SellLeg.Outcome

	switch {
	case buy == domain.OutcomeFilled && sell == domain.OutcomeFilled:
		return e.finishFilled(ctx, rec, mapping, opp, qty)

	case buy == domain.OutcomeRejected && sell == domain.OutcomeRejected:
		rec.Status = domain.ExecNotExecuted
		rec.FailureReason = "both legs rejected"
		rec.CompletedAt = e.now().UTC()
		e.logger.Info("both legs rejected",
			slog.String("execution_id", rec.ID),
			slog.String("buy_reason", rec.BuyLeg.Detail),
			slog.String("sell_reason", rec.SellLeg.Detail))
		return rec, e.persist(ctx, rec)

	case buy == domain.OutcomeTransport && sell == domain.OutcomeTransport:
		return e.reconcileAmbiguous(ctx, rec, mapping, opp, qty, baseline)

	default:
		// One leg filled (or is unconfirmed) while the other did not.
		return e.finishAsymmetric(ctx, rec, mapping, "")
	}
}

// finishFilled applies the success path: realized profit, daily counters,
// two positions, breaker success, medium alert.
func (e *Engine) finishFilled(ctx context.Context, rec domain.ExecutionRecord, mapping domain.EventMapping, opp domain.Opportunity, qty float64) (domain.ExecutionRecord, error) {
	totalFees := rec.BuyLeg.FeesUSD + rec.SellLeg.FeesUSD
	rec.TotalFeesUSD = totalFees
	rec.RealizedPnL = (rec.SellLeg.FillPrice-rec.BuyLeg.FillPrice)*qty - totalFees
	rec.Status = domain.ExecComplete
	rec.CompletedAt = e.now().UTC()

	e.applyLegPosition(ctx, mapping, rec.BuyLeg, qty)
	e.applyLegPosition(ctx, mapping, rec.SellLeg, qty)

	e.state.RecordTrade(rec.RealizedPnL, qty*rec.BuyLeg.FillPrice)
	e.breaker.RecordSuccess()
	e.checkDailyLoss(ctx)

	e.logger.Info("trade executed",
		slog.String("execution_id", rec.ID),
		slog.String("mapping_id", mapping.ID),
		slog.Float64("qty", qty),
		slog.Float64("realized_pnl", rec.RealizedPnL),
		slog.Int64("duration_ms", rec.DurationMs()))
	if err := e.alerter.Alert(ctx, domain.SeverityMedium, "trade_executed",
		"Trade executed",
		fmt.Sprintf("%s: %0.f contracts, buy %s@%.2f sell %s@%.2f, pnl %.2f",
			mapping.Description, qty,
			rec.BuyLeg.Venue, rec.BuyLeg.FillPrice,
			rec.SellLeg.Venue, rec.SellLeg.FillPrice,
			rec.RealizedPnL)); err != nil {
		e.logger.Warn("trade alert failed", slog.String("error", err.Error()))
	}
	return rec, e.persist(ctx, rec)
}

// checkDailyLoss pauses trading for the rest of the UTC day once cumulative
// realized losses reach the configured limit. Called after every recorded
// trade so a breach is acted on immediately, not on the next risk check.
func (e *Engine) checkDailyLoss(ctx context.Context) {
	if e.dailyLossLimit <= 0 {
		return
	}
	daily := e.state.Daily()
	if daily.PnL > -e.dailyLossLimit {
		return
	}
	e.logger.Error("daily loss limit reached",
		slog.Float64("daily_pnl", daily.PnL),
		slog.Float64("limit", e.dailyLossLimit))
	if err := e.breaker.RecordFailure(ctx, domain.FailureDailyLoss); err != nil {
		e.logger.Error("record daily loss failure", slog.String("error", err.Error()))
	}
}

// applyLegPosition records one filled leg in the canonical position set, the
// risk ledger, and the append-only position event trail. A buy leg holds yes
// at the fill price; a sell leg is equivalent to holding no at one minus the
// fill price.
func (e *Engine) applyLegPosition(ctx context.Context, mapping domain.EventMapping, leg domain.LegResult, qty float64) {
	side := domain.SideYes
	price := leg.FillPrice
	if leg.Side == domain.OrderSideSell {
		side = domain.SideNo
		price = 1 - leg.FillPrice
	}
	pos := e.state.ApplyFill(leg.Venue, leg.Contract, mapping.ID, side, qty, price)
	e.risk.ApplyFill(domain.Position{
		ID:        pos.ID,
		Venue:     leg.Venue,
		Contract:  leg.Contract,
		MappingID: mapping.ID,
		Side:      side,
		Quantity:  qty,
		AvgPrice:  price,
	})
	// Audit trail only; the trade outcome never depends on this insert.
	if err := e.posEvents.Insert(ctx, pos); err != nil {
		e.logger.Warn("position event insert failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()))
	}
}

// finishAsymmetric handles the critical divergence path: one leg is (or may
// be) live while the other is not. The unhedged position is recorded for
// human resolution; the engine never unwinds automatically.
func (e *Engine) finishAsymmetric(ctx context.Context, rec domain.ExecutionRecord, mapping domain.EventMapping, detail string) (domain.ExecutionRecord, error) {
	if detail == "" {
		detail = fmt.Sprintf("buy=%s sell=%s", rec.BuyLeg.Outcome, rec.SellLeg.Outcome)
	}
	rec.Status = domain.ExecFailed
	rec.FailureReason = "asymmetric execution: " + detail
	rec.CompletedAt = e.now().UTC()

	for _, leg := range []domain.LegResult{rec.BuyLeg, rec.SellLeg} {
		if leg.Outcome == domain.OutcomeFilled {
			e.applyLegPosition(ctx, mapping, leg, leg.FillQty)
		}
	}

	e.logger.Error("asymmetric execution",
		slog.String("execution_id", rec.ID),
		slog.String("mapping_id", mapping.ID),
		slog.String("detail", detail))

	if err := e.breaker.RecordFailure(ctx, domain.FailureAsymmetric); err != nil {
		e.logger.Error("record asymmetric failure", slog.String("error", err.Error()))
	}
	if err := e.alerter.Alert(ctx, domain.SeverityCritical, "asymmetric_execution",
		"ASYMMETRIC EXECUTION",
		fmt.Sprintf("%s: %s — unhedged exposure requires manual resolution", mapping.Description, detail)); err != nil {
		e.logger.Warn("asymmetric alert failed", slog.String("error", err.Error()))
	}
	return rec, e.persist(ctx, rec)
}

// persist writes the attempt's single durable record and snapshots state so
// positions and counters survive a crash right after classification.
func (e *Engine) persist(ctx context.Context, rec domain.ExecutionRecord) error {
	if err := e.execs.Insert(ctx, rec); err != nil {
		e.logger.Error("persist execution record",
			slog.String("execution_id", rec.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("engine: persist execution %s: %w", rec.ID, err)
	}
	if rec.Status == domain.ExecComplete || rec.Status == domain.ExecFailed {
		if err := e.state.Snapshot(); err != nil {
			e.logger.Error("post-execution snapshot failed", slog.String("error", err.Error()))
		}
	}
	return nil
}
