package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crossclob/arbot/internal/domain"
)

//go:embed scripts/book_set.lua
var bookSetLua string

// bookTTL bounds how long a pushed book survives without refresh. Stale push
// data is worse than no data because it looks current.
const bookTTL = 30 * time.Second

// BookCache implements domain.BookCache with last-writer-wins semantics on
// the venue-reported timestamp.
//
// Key schema:
//
//	book:{venue}:{contract}     - serialized snapshot
//	book:{venue}:{contract}:ts  - snapshot timestamp (unix nanos)
//	heartbeat:{venue}           - last stream activity (unix nanos)
type BookCache struct {
	rdb     *redis.Client
	bookSet *redis.Script
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{
		rdb:     c.Underlying(),
		bookSet: redis.NewScript(bookSetLua),
	}
}

func bookKey(venue domain.Venue, contract string) string {
	return "book:" + string(venue) + ":" + contract
}

func bookTSKey(venue domain.Venue, contract string) string {
	return bookKey(venue, contract) + ":ts"
}

func heartbeatKey(venue domain.Venue) string {
	return "heartbeat:" + string(venue)
}

// SetBook stores a snapshot unless a newer one is already cached. Out-of-order
// deliveries from a reconnecting stream are dropped atomically by the script.
func (c *BookCache) SetBook(ctx context.Context, book domain.OrderBook) error {
	payload, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s/%s: %w", book.Venue, book.Contract, err)
	}

	keys := []string{bookKey(book.Venue, book.Contract), bookTSKey(book.Venue, book.Contract)}
	args := []any{book.Timestamp.UnixNano(), payload, bookTTL.Milliseconds()}
	if err := c.bookSet.Run(ctx, c.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis: set book %s/%s: %w", book.Venue, book.Contract, err)
	}
	return nil
}

// GetBook returns the cached snapshot, or domain.ErrNotFound when absent or
// expired.
func (c *BookCache) GetBook(ctx context.Context, venue domain.Venue, contract string) (domain.OrderBook, error) {
	raw, err := c.rdb.Get(ctx, bookKey(venue, contract)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderBook{}, domain.ErrNotFound
		}
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s/%s: %w", venue, contract, err)
	}

	var book domain.OrderBook
	if err := json.Unmarshal(raw, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: decode book %s/%s: %w", venue, contract, err)
	}
	return book, nil
}

// Heartbeat records stream activity for the venue.
func (c *BookCache) Heartbeat(ctx context.Context, venue domain.Venue, at time.Time) error {
	err := c.rdb.Set(ctx, heartbeatKey(venue), strconv.FormatInt(at.UnixNano(), 10), 0).Err()
	if err != nil {
		return fmt.Errorf("redis: heartbeat %s: %w", venue, err)
	}
	return nil
}

// LastHeartbeat returns the venue's last recorded stream activity, or
// domain.ErrNotFound when none was ever recorded.
func (c *BookCache) LastHeartbeat(ctx context.Context, venue domain.Venue) (time.Time, error) {
	raw, err := c.rdb.Get(ctx, heartbeatKey(venue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("redis: last heartbeat %s: %w", venue, err)
	}

	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: parse heartbeat %s: %w", venue, err)
	}
	return time.Unix(0, nanos), nil
}

var _ domain.BookCache = (*BookCache)(nil)
