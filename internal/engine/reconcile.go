package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crossclob/arbot/internal/domain"
)

// baselinePositions is the venue-reported position snapshot captured just
// before firing. When both legs come back transport-ambiguous, the delta
// against this baseline is the only ground truth for what actually filled.
type baselinePositions struct {
	buyNet  float64
	sellNet float64
	valid   bool
}

// captureBaseline fetches positions on both venues for the two contracts
// involved. A fetch failure leaves the baseline invalid; reconciliation then
// cannot disambiguate and escalates.
func (e *Engine) captureBaseline(ctx context.Context, mapping domain.EventMapping, opp domain.Opportunity) *baselinePositions {
	buyContract := mapping.ContractOn(opp.BuyVenue)
	sellContract := mapping.ContractOn(opp.SellVenue)

	buyPositions, err := e.adapters[opp.BuyVenue].GetPositions(ctx)
	if err != nil {
		e.logger.Warn("baseline positions unavailable",
			slog.String("venue", string(opp.BuyVenue)),
			slog.String("error", err.Error()))
		return &baselinePositions{}
	}
	sellPositions, err := e.adapters[opp.SellVenue].GetPositions(ctx)
	if err != nil {
		e.logger.Warn("baseline positions unavailable",
			slog.String("venue", string(opp.SellVenue)),
			slog.String("error", err.Error()))
		return &baselinePositions{}
	}

	return &baselinePositions{
		buyNet:  netQty(buyPositions, buyContract),
		sellNet: netQty(sellPositions, sellContract),
		valid:   true,
	}
}

// netQty is the signed exposure in one contract: yes quantity minus no
// quantity as the venue reports it.
func netQty(positions []domain.VenuePosition, contract string) float64 {
	var net float64
	for _, p := range positions {
		if p.Contract != contract {
			continue
		}
		if p.Side == domain.SideYes {
			net += p.Quantity
		} else {
			net -= p.Quantity
		}
	}
	return net
}

// reconcileAmbiguous resolves a both-transport outcome by polling venue
// positions and comparing against the pre-fire baseline. It classifies the
// attempt as complete, not executed, or asymmetric; if the venues cannot be
// read within the bounded timeout, ambiguity escalates to asymmetric.
func (e *Engine) reconcileAmbiguous(ctx context.Context, rec domain.ExecutionRecord, mapping domain.EventMapping, opp domain.Opportunity, qty float64, baseline *baselinePositions) (domain.ExecutionRecord, error) {
	if baseline == nil || !baseline.valid {
		return e.finishAsymmetric(ctx, rec, mapping, "no pre-fire baseline, cannot reconcile transport ambiguity")
	}

	deadline := time.Duration(e.cfg.ReconcileTimeoutMs) * time.Millisecond
	reconCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	e.logger.Warn("reconciling transport-ambiguous execution",
		slog.String("execution_id", rec.ID),
		slog.Duration("timeout", deadline))

	buyFilled, sellFilled, err := e.pollDeltas(reconCtx, rec, opp, baseline)
	if err != nil {
		return e.finishAsymmetric(ctx, rec, mapping, fmt.Sprintf("reconciliation timed out: %v", err))
	}

	switch {
	case buyFilled && sellFilled:
		// Both orders landed; the transport errors were response-path only.
		// Fill prices were never observed, so the requested prices stand in.
		rec.BuyLeg.Outcome = domain.OutcomeFilled
		rec.BuyLeg.FillPrice = rec.BuyLeg.ReqPrice
		rec.BuyLeg.FillQty = qty
		rec.SellLeg.Outcome = domain.OutcomeFilled
		rec.SellLeg.FillPrice = rec.SellLeg.ReqPrice
		rec.SellLeg.FillQty = qty
		e.logger.Info("reconciliation: both legs filled", slog.String("execution_id", rec.ID))
		return e.finishFilled(ctx, rec, mapping, opp, qty)

	case !buyFilled && !sellFilled:
		rec.Status = domain.ExecNotExecuted
		rec.FailureReason = "transport errors on both legs, venue positions unchanged"
		rec.CompletedAt = e.now().UTC()
		e.logger.Info("reconciliation: no fills", slog.String("execution_id", rec.ID))
		return rec, e.persist(ctx, rec)

	default:
		if buyFilled {
			rec.BuyLeg.Outcome = domain.OutcomeFilled
			rec.BuyLeg.FillPrice = rec.BuyLeg.ReqPrice
			rec.BuyLeg.FillQty = qty
		} else {
			rec.SellLeg.Outcome = domain.OutcomeFilled
			rec.SellLeg.FillPrice = rec.SellLeg.ReqPrice
			rec.SellLeg.FillQty = qty
		}
		return e.finishAsymmetric(ctx, rec, mapping, "reconciliation found exactly one leg filled")
	}
}

// pollDeltas repeatedly reads both venues' positions until the deltas are
// observable or the context deadline lapses. A buy fill shows as increased
// net exposure; a sell fill as decreased.
func (e *Engine) pollDeltas(ctx context.Context, rec domain.ExecutionRecord, opp domain.Opportunity, baseline *baselinePositions) (buyFilled, sellFilled bool, err error) {
	const pollInterval = 500 * time.Millisecond

	for {
		buyPositions, buyErr := e.adapters[opp.BuyVenue].GetPositions(ctx)
		sellPositions, sellErr := e.adapters[opp.SellVenue].GetPositions(ctx)
		if buyErr == nil && sellErr == nil {
			buyNet := netQty(buyPositions, rec.BuyLeg.Contract)
			sellNet := netQty(sellPositions, rec.SellLeg.Contract)
			return buyNet > baseline.buyNet, sellNet < baseline.sellNet, nil
		}

		select {
		case <-ctx.Done():
			if buyErr != nil {
				return false, false, fmt.Errorf("%s positions: %w", opp.BuyVenue, buyErr)
			}
			return false, false, fmt.Errorf("%s positions: %w", opp.SellVenue, sellErr)
		case <-time.After(pollInterval):
		}
	}
}
