package domain

import (
	"fmt"
	"time"
)

// PriceLevel is a single price+size entry in an order book. Prices are
// probabilities in [0,1]; venue-native units are converted at the adapter
// boundary.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a snapshot of the top levels for one contract on one venue.
// Bids are sorted descending, asks ascending.
type OrderBook struct {
	Venue     Venue
	Contract  string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest resting bid, or false when the bid side is empty.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest resting ask, or false when the ask side is empty.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Validate checks the structural invariants: price bounds, positive sizes,
// correct sort order, and best bid strictly below best ask.
func (b OrderBook) Validate() error {
	for i, lvl := range b.Bids {
		if lvl.Price < 0 || lvl.Price > 1 {
			return fmt.Errorf("orderbook %s/%s: bid price %.4f out of [0,1]", b.Venue, b.Contract, lvl.Price)
		}
		if lvl.Size <= 0 {
			return fmt.Errorf("orderbook %s/%s: bid size %.4f not positive", b.Venue, b.Contract, lvl.Size)
		}
		if i > 0 && lvl.Price > b.Bids[i-1].Price {
			return fmt.Errorf("orderbook %s/%s: bids not sorted descending", b.Venue, b.Contract)
		}
	}
	for i, lvl := range b.Asks {
		if lvl.Price < 0 || lvl.Price > 1 {
			return fmt.Errorf("orderbook %s/%s: ask price %.4f out of [0,1]", b.Venue, b.Contract, lvl.Price)
		}
		if lvl.Size <= 0 {
			return fmt.Errorf("orderbook %s/%s: ask size %.4f not positive", b.Venue, b.Contract, lvl.Size)
		}
		if i > 0 && lvl.Price < b.Asks[i-1].Price {
			return fmt.Errorf("orderbook %s/%s: asks not sorted ascending", b.Venue, b.Contract)
		}
	}
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if hasBid && hasAsk && bid.Price >= ask.Price {
		return fmt.Errorf("orderbook %s/%s: crossed book bid=%.4f ask=%.4f", b.Venue, b.Contract, bid.Price, ask.Price)
	}
	return nil
}
