package domain

import "time"

// PositionSide is the outcome a position pays out on.
type PositionSide string

const (
	SideYes PositionSide = "yes"
	SideNo  PositionSide = "no"
)

// Position is an open holding on one venue. Positions aggregate per
// (venue, contract, side) and are discarded once reduced to zero quantity.
type Position struct {
	ID        string       `json:"id"`
	Venue     Venue        `json:"venue"`
	Contract  string       `json:"contract"`
	MappingID string       `json:"mapping_id,omitempty"`
	Side      PositionSide `json:"side"`
	Quantity  float64      `json:"quantity"`
	AvgPrice  float64      `json:"avg_price"`
	OpenedAt  time.Time    `json:"opened_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Notional is the capital at risk in the position.
func (p Position) Notional() float64 {
	return p.Quantity * p.AvgPrice
}

// Inventory is the derived cross-venue view of the holdings for one mapping.
// A clean arbitrage has NetPosition zero; anything else needs rebalancing
// before the pair can be treated as hedged.
type Inventory struct {
	MappingID      string
	PolyYes        float64
	PolyNo         float64
	KalshiYes      float64
	KalshiNo       float64
	NetPosition    float64
	ImbalanceValue float64
	NeedsRebalance bool
}
