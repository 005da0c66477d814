package domain

import "time"

// MatchMethod records how an EventMapping was produced.
type MatchMethod string

const (
	MatchExact  MatchMethod = "exact"
	MatchFuzzy  MatchMethod = "fuzzy"
	MatchManual MatchMethod = "manual"
)

// EventMapping links a Polymarket contract to the Kalshi contract for the
// same underlying event. A pair may only appear once among active mappings,
// and confidence is immutable after creation; only Active and UpdatedAt
// change over a mapping's lifetime.
//
// OutcomeAlignment documents the yes/no convention for the pair. The core
// assumes "selling yes is equivalent to holding no" on both venues; any
// mapping where the outcomes are inverted must say so here before it is
// allowed to trade.
type EventMapping struct {
	ID               string
	PolyContract     string
	KalshiContract   string
	Description      string
	Confidence       float64 // 0.0–1.0
	Method           MatchMethod
	ResolutionTime   time.Time
	OutcomeAlignment string
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ContractOn returns the mapping's contract identifier on the given venue.
func (m EventMapping) ContractOn(v Venue) string {
	if v == VenuePolymarket {
		return m.PolyContract
	}
	return m.KalshiContract
}

// PairKey is the uniqueness key for active mappings.
func (m EventMapping) PairKey() string {
	return m.PolyContract + "|" + m.KalshiContract
}

// MarketListing is a venue market as seen by the matcher: the fields needed
// to decide whether two listings describe the same event.
type MarketListing struct {
	Venue          Venue
	Contract       string
	Title          string
	Category       string
	ResolutionTime time.Time
}
