package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crossclob/arbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore append-only.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert records one detected opportunity; replays of the same ID are no-ops.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO opportunities
			(id, mapping_id, created_at, buy_venue, buy_price, buy_qty,
			 sell_venue, sell_price, sell_qty, gross_spread, est_fees_per_unit,
			 net_profit_per_unit, max_qty, execution_risk, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`,
		opp.ID, opp.MappingID, opp.CreatedAt,
		string(opp.BuyVenue), opp.BuyPrice, opp.BuyQty,
		string(opp.SellVenue), opp.SellPrice, opp.SellQty,
		opp.GrossSpread, opp.EstFeesPerUnit, opp.NetProfitPerUnit,
		opp.MaxQty, opp.ExecutionRisk, opp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns the newest opportunities first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, mapping_id, created_at, buy_venue, buy_price, buy_qty,
		       sell_venue, sell_price, sell_qty, gross_spread, est_fees_per_unit,
		       net_profit_per_unit, max_qty, execution_risk, expires_at
		FROM opportunities ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var list []domain.Opportunity
	for rows.Next() {
		var opp domain.Opportunity
		var buyVenue, sellVenue string
		err := rows.Scan(&opp.ID, &opp.MappingID, &opp.CreatedAt,
			&buyVenue, &opp.BuyPrice, &opp.BuyQty,
			&sellVenue, &opp.SellPrice, &opp.SellQty,
			&opp.GrossSpread, &opp.EstFeesPerUnit, &opp.NetProfitPerUnit,
			&opp.MaxQty, &opp.ExecutionRisk, &opp.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.BuyVenue = domain.Venue(buyVenue)
		opp.SellVenue = domain.Venue(sellVenue)
		list = append(list, opp)
	}
	return list, rows.Err()
}
