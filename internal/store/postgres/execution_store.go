package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crossclob/arbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore. Each record is one row
// plus one leg row per side; inserting an existing ID is a no-op for all
// three rows, which makes the durability path replay-safe.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Insert records one execution attempt with both legs atomically.
func (s *ExecutionStore) Insert(ctx context.Context, rec domain.ExecutionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO executions
			(id, opportunity_id, mapping_id, status, is_dry_run, quantity,
			 realized_pnl, total_fees_usd, failure_reason, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.OpportunityID, rec.MappingID, string(rec.Status), rec.IsDryRun,
		rec.Quantity, rec.RealizedPnL, rec.TotalFeesUSD, rec.FailureReason,
		rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Already recorded; the legs were written in the same transaction.
		return nil
	}

	for role, leg := range map[string]domain.LegResult{"buy": rec.BuyLeg, "sell": rec.SellLeg} {
		_, err := tx.Exec(ctx, `
			INSERT INTO execution_legs
				(execution_id, leg_role, venue, side, contract, outcome, order_id,
				 req_price, fill_price, fill_qty, fees_usd, latency_ms, detail)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			rec.ID, role, string(leg.Venue), string(leg.Side), leg.Contract,
			string(leg.Outcome), leg.OrderID, leg.ReqPrice, leg.FillPrice,
			leg.FillQty, leg.FeesUSD, leg.LatencyMs, leg.Detail,
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution leg %s/%s: %w", rec.ID, role, err)
		}
	}
	return tx.Commit(ctx)
}

// ListRecent returns the newest execution records first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.list(ctx, selectExecutions+` ORDER BY started_at DESC LIMIT $1`, limit)
}

// ListBetween returns records with started_at in [from, to), oldest first.
func (s *ExecutionStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ExecutionRecord, error) {
	return s.list(ctx, selectExecutions+` WHERE started_at >= $1 AND started_at < $2 ORDER BY started_at`, from, to)
}

const selectExecutions = `
	SELECT id, opportunity_id, mapping_id, status, is_dry_run, quantity,
	       realized_pnl, total_fees_usd, failure_reason, started_at, completed_at
	FROM executions`

func (s *ExecutionStore) list(ctx context.Context, query string, args ...any) ([]domain.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionRecord
	byID := make(map[string]int)
	for rows.Next() {
		var rec domain.ExecutionRecord
		var status string
		err := rows.Scan(&rec.ID, &rec.OpportunityID, &rec.MappingID, &status,
			&rec.IsDryRun, &rec.Quantity, &rec.RealizedPnL, &rec.TotalFeesUSD,
			&rec.FailureReason, &rec.StartedAt, &rec.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		rec.Status = domain.ExecutionStatus(status)
		byID[rec.ID] = len(list)
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(list))
	for _, rec := range list {
		ids = append(ids, rec.ID)
	}
	if err := s.attachLegs(ctx, byID, list, ids); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *ExecutionStore) attachLegs(ctx context.Context, byID map[string]int, list []domain.ExecutionRecord, ids []string) error {
	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, leg_role, venue, side, contract, outcome, order_id,
		       req_price, fill_price, fill_qty, fees_usd, latency_ms, detail
		FROM execution_legs WHERE execution_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("postgres: list execution legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var execID, role, venue, side, outcome string
		var leg domain.LegResult
		err := rows.Scan(&execID, &role, &venue, &side, &leg.Contract, &outcome,
			&leg.OrderID, &leg.ReqPrice, &leg.FillPrice, &leg.FillQty,
			&leg.FeesUSD, &leg.LatencyMs, &leg.Detail)
		if err != nil {
			return fmt.Errorf("postgres: scan execution leg: %w", err)
		}
		leg.Venue = domain.Venue(venue)
		leg.Side = domain.OrderSide(side)
		leg.Outcome = domain.FillOutcome(outcome)

		idx, ok := byID[execID]
		if !ok {
			continue
		}
		if role == "buy" {
			list[idx].BuyLeg = leg
		} else {
			list[idx].SellLeg = leg
		}
	}
	return rows.Err()
}
