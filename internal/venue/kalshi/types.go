package kalshi

import (
	"sort"
	"time"

	"github.com/crossclob/arbot/internal/domain"
)

// apiOrderbook is the exchange book shape: YES bids and NO bids as
// [price_cents, quantity] pairs. YES asks are implied by NO bids at the
// complementary price.
type apiOrderbook struct {
	Yes [][2]int64 `json:"yes"`
	No  [][2]int64 `json:"no"`
}

// toDomain converts cent levels to probability prices. A NO bid at c cents is
// a YES ask at 100-c cents.
func (b apiOrderbook) toDomain(ticker string, at time.Time) domain.OrderBook {
	book := domain.OrderBook{
		Venue:     domain.VenueKalshi,
		Contract:  ticker,
		Timestamp: at,
	}
	for _, lvl := range b.Yes {
		if lvl[1] <= 0 {
			continue
		}
		book.Bids = append(book.Bids, domain.PriceLevel{
			Price: float64(lvl[0]) / 100,
			Size:  float64(lvl[1]),
		})
	}
	for _, lvl := range b.No {
		if lvl[1] <= 0 {
			continue
		}
		book.Asks = append(book.Asks, domain.PriceLevel{
			Price: float64(100-lvl[0]) / 100,
			Size:  float64(lvl[1]),
		})
	}
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
	return book
}

// apiOrder is the order object inside create-order responses.
type apiOrder struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"` // "executed", "canceled", "resting"
	YesPrice  int64  `json:"yes_price"`
	Count     int64  `json:"count"`
	TakerFees int64  `json:"taker_fees"` // cents
}

// apiMarketPosition is one row from the portfolio positions endpoint.
// Position is signed: positive YES contracts, negative NO contracts.
type apiMarketPosition struct {
	Ticker         string `json:"ticker"`
	Position       int64  `json:"position"`
	MarketExposure int64  `json:"market_exposure"` // cents
}

// wsCommand is the subscription envelope for the trade API websocket.
type wsCommand struct {
	ID     int      `json:"id"`
	Cmd    string   `json:"cmd"`
	Params wsParams `json:"params"`
}

type wsParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

// wsMessage is the envelope of every inbound websocket message.
type wsMessage struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string     `json:"market_ticker"`
		Yes          [][2]int64 `json:"yes"`
		No           [][2]int64 `json:"no"`
		Price        int64      `json:"price"`
		Delta        int64      `json:"delta"`
		Side         string     `json:"side"`
	} `json:"msg"`
}
