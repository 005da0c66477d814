package domain

import "time"

// Opportunity is a time-bounded arbitrage candidate derived from the current
// tops of book of a mapped contract pair. NetProfitPerUnit is always
// GrossSpread minus EstFeesPerUnit, and SellPrice is strictly above BuyPrice.
type Opportunity struct {
	ID        string
	MappingID string
	CreatedAt time.Time

	BuyVenue    Venue
	BuyPrice    float64
	BuyQty      float64 // size available at the buy-side ask
	SellVenue   Venue
	SellPrice   float64
	SellQty     float64 // size available at the sell-side bid

	GrossSpread      float64
	EstFeesPerUnit   float64
	NetProfitPerUnit float64
	MaxQty           float64

	// ExecutionRisk grows toward 1 as available depth shrinks toward the
	// configured liquidity floor.
	ExecutionRisk float64

	ExpiresAt time.Time
}

// Expired reports whether the opportunity's TTL has elapsed at now.
func (o Opportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Value is the total expected profit at full size, used to rank opportunities.
func (o Opportunity) Value() float64 {
	return o.NetProfitPerUnit * o.MaxQty
}
