package polymarket

import (
	"sort"
	"strconv"
	"time"

	"github.com/crossclob/arbot/internal/domain"
)

// apiLevel is one price level as the CLOB API serializes it: decimal strings.
type apiLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// apiBook is the order book payload shared by the REST /book endpoint and the
// websocket "book" event.
type apiBook struct {
	Market    string     `json:"market"`
	AssetID   string     `json:"asset_id"`
	Timestamp string     `json:"timestamp"` // unix millis as string
	Bids      []apiLevel `json:"bids"`
	Asks      []apiLevel `json:"asks"`
}

// toDomain converts an API book to the normalized form: floats, bids sorted
// descending, asks ascending. Levels that fail to parse are dropped.
func (b apiBook) toDomain() domain.OrderBook {
	book := domain.OrderBook{
		Venue:     domain.VenuePolymarket,
		Contract:  b.AssetID,
		Bids:      parseLevels(b.Bids),
		Asks:      parseLevels(b.Asks),
		Timestamp: parseMillis(b.Timestamp),
	}
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
	return book
}

func parseLevels(in []apiLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lvl := range in {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil || size <= 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// apiOrderResult is the response to POST /order.
type apiOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"` // "matched", "unmatched", "delayed"
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
}

// apiPosition is one row from the positions endpoint.
type apiPosition struct {
	AssetID  string  `json:"asset"`
	Outcome  string  `json:"outcome"` // "Yes" or "No"
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avgPrice"`
}

// wsSubscribe is the market-channel subscription command.
type wsSubscribe struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

// wsEnvelope identifies the event type of a websocket message.
type wsEnvelope struct {
	EventType string `json:"event_type"`
}
