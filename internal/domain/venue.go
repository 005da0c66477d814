// Package domain defines the core entities and interfaces shared by every
// layer of the arbitrage bot: venues, order books, event mappings,
// opportunities, positions, execution records, and the persistence and
// alerting contracts they flow through.
package domain

import (
	"context"
	"time"
)

// Venue identifies one of the two supported exchanges.
type Venue string

const (
	// VenuePolymarket is the crypto-settled CLOB exchange.
	VenuePolymarket Venue = "polymarket"
	// VenueKalshi is the regulated USD CLOB exchange.
	VenueKalshi Venue = "kalshi"
)

// Other returns the opposite venue.
func (v Venue) Other() Venue {
	if v == VenuePolymarket {
		return VenueKalshi
	}
	return VenuePolymarket
}

// Valid reports whether v is one of the two known venues.
func (v Venue) Valid() bool {
	return v == VenuePolymarket || v == VenueKalshi
}

// OrderSide indicates whether an order buys or sells the contract.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderRequest is a fill-or-kill order as the core hands it to an adapter.
// Price is a probability in (0,1); adapters convert to venue-native units.
type OrderRequest struct {
	Contract string
	Side     OrderSide
	Price    float64
	Quantity float64
}

// FillOutcome classifies the result of a fill-or-kill placement.
type FillOutcome string

const (
	// OutcomeFilled means the order filled completely at FillPrice.
	OutcomeFilled FillOutcome = "filled"
	// OutcomeRejected means the venue confirmed that no fill occurred.
	OutcomeRejected FillOutcome = "rejected"
	// OutcomeTransport means the placement outcome is unknown: the order may
	// or may not rest as a fill on the venue until reconciled.
	OutcomeTransport FillOutcome = "transport_error"
)

// FillResult is the outcome of one fill-or-kill placement.
//
// A Rejected result is a hard guarantee from the adapter that no fill
// occurred. A Transport result carries no such guarantee and must be
// reconciled against venue positions before the trade is classified.
type FillResult struct {
	Outcome   FillOutcome
	OrderID   string
	FillPrice float64
	FillQty   float64
	FeesUSD   float64
	Reason    string // rejection reason or transport detail
	At        time.Time
}

// Balance is the spendable balance on a venue, in USD.
type Balance struct {
	Venue     Venue
	Available float64
	Total     float64
}

// VenuePosition is a position as reported by the venue itself. It is the
// ground truth used for reconciliation after ambiguous executions.
type VenuePosition struct {
	Venue    Venue
	Contract string
	Side     PositionSide
	Quantity float64
	AvgPrice float64
}

// BookHandler receives order-book snapshots pushed over a venue stream.
type BookHandler func(book OrderBook)

// VenueAdapter is the normalized view of one exchange. Implementations own
// authentication, unit conversion (e.g. cents to probability), and rate-limit
// shaping; the core treats contracts as opaque identifiers.
//
// GetOrderBook is the authoritative pull path: execution decisions are always
// made against a freshly fetched book, never a pushed one.
type VenueAdapter interface {
	Venue() Venue

	// GetOrderBook returns the current top levels with the capture timestamp.
	GetOrderBook(ctx context.Context, contract string) (OrderBook, error)

	// PlaceFOK submits a fill-or-kill order. A returned error is equivalent
	// to a FillResult with OutcomeTransport.
	PlaceFOK(ctx context.Context, req OrderRequest) (FillResult, error)

	// CancelOrder cancels a resting order by venue order id.
	CancelOrder(ctx context.Context, orderID string) error

	GetBalance(ctx context.Context) (Balance, error)
	GetPositions(ctx context.Context) ([]VenuePosition, error)

	// StreamBooks subscribes to push updates for the given contracts and
	// blocks, invoking handler per snapshot, until the stream fails or ctx
	// is cancelled. Push is additive: the core never relies on it for
	// execution-time correctness.
	StreamBooks(ctx context.Context, contracts []string, handler BookHandler) error
}
