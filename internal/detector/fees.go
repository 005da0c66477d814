package detector

import (
	"github.com/shopspring/decimal"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// FeeModel estimates the total cost of a two-leg trade. It is pure and
// deterministic: the same inputs always produce the same estimate.
//
// The venue terms differ. Polymarket charges a taker fee on the buy notional
// and on the winning payout of a sell, plus an amortized on-chain settlement
// cost per trade. Kalshi charges a capped percentage of the potential payout
// on the sell leg only. Internally all terms are computed with decimal
// arithmetic so repeated estimates never drift.
type FeeModel struct {
	polyTakerRate decimal.Decimal
	kalshiFeeRate decimal.Decimal
	kalshiFeeCap  decimal.Decimal
	gasUSD        decimal.Decimal
}

// NewFeeModel builds a FeeModel from the configured venue fee terms.
func NewFeeModel(cfg config.FeesConfig) FeeModel {
	return FeeModel{
		polyTakerRate: decimal.NewFromFloat(cfg.PolyTakerRate),
		kalshiFeeRate: decimal.NewFromFloat(cfg.KalshiFeeRate),
		kalshiFeeCap:  decimal.NewFromFloat(cfg.KalshiFeeCap),
		gasUSD:        decimal.NewFromFloat(cfg.GasPerTradeUSD),
	}
}

// one is the winning payout per contract.
var one = decimal.NewFromInt(1)

// PerUnit returns the estimated fee per contract for a trade that buys on
// buyVenue at buyPrice and sells on sellVenue at sellPrice, with qty
// contracts total. The gas cost is amortized over qty, so PerUnit depends on
// trade size.
func (f FeeModel) PerUnit(buyVenue, sellVenue domain.Venue, buyPrice, sellPrice, qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	perUnit := f.legFees(buyVenue, sellVenue, buyPrice, sellPrice)
	perUnit = perUnit.Add(f.gasUSD.Div(decimal.NewFromFloat(qty)))
	res, _ := perUnit.Float64()
	return res
}

// Total returns the estimated total fee in USD for the whole trade.
func (f FeeModel) Total(buyVenue, sellVenue domain.Venue, buyPrice, sellPrice, qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	total := f.legFees(buyVenue, sellVenue, buyPrice, sellPrice).Mul(decimal.NewFromFloat(qty))
	total = total.Add(f.gasUSD)
	res, _ := total.Float64()
	return res
}

// legFees is the per-contract fee excluding gas.
func (f FeeModel) legFees(buyVenue, sellVenue domain.Venue, buyPrice, sellPrice float64) decimal.Decimal {
	buy := decimal.NewFromFloat(buyPrice)
	sell := decimal.NewFromFloat(sellPrice)

	perUnit := decimal.Zero

	if buyVenue == domain.VenuePolymarket {
		perUnit = perUnit.Add(f.polyTakerRate.Mul(buy))
	}
	if sellVenue == domain.VenuePolymarket {
		perUnit = perUnit.Add(f.polyTakerRate.Mul(one.Sub(sell)))
	}
	if sellVenue == domain.VenueKalshi {
		fee := f.kalshiFeeRate.Mul(one.Sub(sell))
		if fee.GreaterThan(f.kalshiFeeCap) {
			fee = f.kalshiFeeCap
		}
		perUnit = perUnit.Add(fee)
	}
	// Kalshi charges nothing on the buy leg.

	return perUnit
}
