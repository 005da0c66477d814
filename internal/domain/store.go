package domain

import (
	"context"
	"time"
)

// MappingStore persists event mappings. Insert is idempotent on the primary
// key; inactive mappings are retained for historical reference.
type MappingStore interface {
	Insert(ctx context.Context, m EventMapping) error
	SetActive(ctx context.Context, id string, active bool) error
	GetByID(ctx context.Context, id string) (EventMapping, error)
	List(ctx context.Context) ([]EventMapping, error)
}

// OpportunityStore records detected opportunities append-only.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
}

// ExecutionStore records execution attempts append-only. Insert is
// idempotent on the primary key.
type ExecutionStore interface {
	Insert(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]ExecutionRecord, error)
}

// PositionEventStore records position changes append-only for audit.
type PositionEventStore interface {
	Insert(ctx context.Context, pos Position) error
	ListRecent(ctx context.Context, limit int) ([]Position, error)
}

// BookCache stores the latest pushed order book per (venue, contract) with
// last-writer-wins semantics keyed on the venue-reported timestamp: an update
// older than the cached snapshot is dropped.
type BookCache interface {
	SetBook(ctx context.Context, book OrderBook) error
	GetBook(ctx context.Context, venue Venue, contract string) (OrderBook, error)
	Heartbeat(ctx context.Context, venue Venue, at time.Time) error
	LastHeartbeat(ctx context.Context, venue Venue) (time.Time, error)
}
