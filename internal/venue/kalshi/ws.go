package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crossclob/arbot/internal/domain"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
	wsPath      = "/trade-api/ws/v2"
)

// localBook mirrors one market's resting YES and NO levels in cents so
// incremental deltas can be applied between snapshots.
type localBook struct {
	yes map[int64]int64 // price cents -> quantity
	no  map[int64]int64
}

func (b *localBook) snapshot(ticker string, at time.Time) domain.OrderBook {
	api := apiOrderbook{}
	for price, qty := range b.yes {
		api.Yes = append(api.Yes, [2]int64{price, qty})
	}
	for price, qty := range b.no {
		api.No = append(api.No, [2]int64{price, qty})
	}
	return api.toDomain(ticker, at)
}

// StreamBooks implements domain.VenueAdapter. It runs a single authenticated
// connection on the orderbook_delta channel, rebuilding full books from
// snapshots plus deltas and emitting one converted book per change.
// Reconnection belongs to the caller.
func (a *Adapter) StreamBooks(ctx context.Context, contracts []string, handler domain.BookHandler) error {
	header := http.Header{}
	if a.signingKey != nil {
		req := &http.Request{Header: header}
		if err := a.signRequest(req, http.MethodGet, wsPath); err != nil {
			return err
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.cfg.WsURL, header)
	if err != nil {
		return fmt.Errorf("kalshi/ws: connect: %w", err)
	}
	defer conn.Close()

	sub, err := json.Marshal(wsCommand{
		ID:  1,
		Cmd: "subscribe",
		Params: wsParams{
			Channels:      []string{"orderbook_delta"},
			MarketTickers: contracts,
		},
	})
	if err != nil {
		return fmt.Errorf("kalshi/ws: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("kalshi/ws: subscribe: %w", err)
	}
	a.logger.Info("orderbook stream subscribed", slog.Int("markets", len(contracts)))

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingDone:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	books := make(map[string]*localBook)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kalshi/ws: read: %w", err)
		}
		a.dispatch(raw, books, handler)
	}
}

// dispatch applies one websocket message to the local books and emits the
// updated market when it changed. Unknown types are ignored.
func (a *Adapter) dispatch(raw []byte, books map[string]*localBook, handler domain.BookHandler) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	ticker := msg.Msg.MarketTicker
	if ticker == "" {
		return
	}

	switch msg.Type {
	case "orderbook_snapshot":
		book := &localBook{yes: make(map[int64]int64), no: make(map[int64]int64)}
		for _, lvl := range msg.Msg.Yes {
			book.yes[lvl[0]] = lvl[1]
		}
		for _, lvl := range msg.Msg.No {
			book.no[lvl[0]] = lvl[1]
		}
		books[ticker] = book

	case "orderbook_delta":
		book, ok := books[ticker]
		if !ok {
			// Deltas before the snapshot cannot be applied safely.
			a.logger.Debug("delta before snapshot, dropping", slog.String("ticker", ticker))
			return
		}
		side := book.yes
		if msg.Msg.Side == "no" {
			side = book.no
		}
		side[msg.Msg.Price] += msg.Msg.Delta
		if side[msg.Msg.Price] <= 0 {
			delete(side, msg.Msg.Price)
		}

	default:
		return
	}

	handler(books[ticker].snapshot(ticker, a.now()))
}
