package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crossclob/arbot/internal/domain"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

// StreamBooks implements domain.VenueAdapter. It runs a single connection:
// dial, subscribe to the market channel, and dispatch "book" events until the
// stream fails or ctx is cancelled. Reconnection belongs to the caller.
func (a *Adapter) StreamBooks(ctx context.Context, contracts []string, handler domain.BookHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.cfg.WsHost, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	defer conn.Close()

	sub, err := json.Marshal(wsSubscribe{Type: "market", AssetIDs: contracts})
	if err != nil {
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	a.logger.Info("market stream subscribed", slog.Int("assets", len(contracts)))

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// Close the connection when ctx ends so the blocked read returns, and
	// keep the peer alive with periodic pings.
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

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polymarket/ws: read: %w", err)
		}
		a.dispatch(raw, handler)
	}
}

// dispatch parses one websocket message and forwards book snapshots. The
// stream multiplexes event types; everything but "book" is ignored, and
// unparseable messages are dropped silently.
func (a *Adapter) dispatch(raw []byte, handler domain.BookHandler) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.EventType != "book" {
		return
	}

	var book apiBook
	if err := json.Unmarshal(raw, &book); err != nil {
		a.logger.Debug("dropping malformed book event", slog.String("error", err.Error()))
		return
	}
	handler(book.toDomain())
}
