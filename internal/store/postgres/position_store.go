package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crossclob/arbot/internal/domain"
)

// PositionEventStore implements domain.PositionEventStore: an append-only
// audit trail of position changes. The live ledger stays in the state file;
// these rows exist for post-hoc review.
type PositionEventStore struct {
	pool *pgxpool.Pool
}

// NewPositionEventStore creates a PositionEventStore.
func NewPositionEventStore(pool *pgxpool.Pool) *PositionEventStore {
	return &PositionEventStore{pool: pool}
}

// Insert appends one position snapshot.
func (s *PositionEventStore) Insert(ctx context.Context, pos domain.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO position_events
			(id, venue, contract, mapping_id, side, quantity, avg_price, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pos.ID, string(pos.Venue), pos.Contract, pos.MappingID, string(pos.Side),
		pos.Quantity, pos.AvgPrice, pos.OpenedAt, pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position event %s: %w", pos.ID, err)
	}
	return nil
}

// ListRecent returns the newest position events first.
func (s *PositionEventStore) ListRecent(ctx context.Context, limit int) ([]domain.Position, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, venue, contract, mapping_id, side, quantity, avg_price, opened_at, updated_at
		FROM position_events ORDER BY seq DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position events: %w", err)
	}
	defer rows.Close()

	var list []domain.Position
	for rows.Next() {
		var pos domain.Position
		var venue, side string
		err := rows.Scan(&pos.ID, &venue, &pos.Contract, &pos.MappingID, &side,
			&pos.Quantity, &pos.AvgPrice, &pos.OpenedAt, &pos.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position event: %w", err)
		}
		pos.Venue = domain.Venue(venue)
		pos.Side = domain.PositionSide(side)
		list = append(list, pos)
	}
	return list, rows.Err()
}
