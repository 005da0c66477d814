package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crossclob/arbot/internal/domain"
)

// MappingStore implements domain.MappingStore.
type MappingStore struct {
	pool *pgxpool.Pool
}

// NewMappingStore creates a MappingStore.
func NewMappingStore(pool *pgxpool.Pool) *MappingStore {
	return &MappingStore{pool: pool}
}

// Insert persists a mapping; replays of the same ID are no-ops.
func (s *MappingStore) Insert(ctx context.Context, m domain.EventMapping) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_mappings
			(id, poly_contract, kalshi_contract, description, confidence, method,
			 resolution_time, outcome_alignment, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.PolyContract, m.KalshiContract, m.Description, m.Confidence,
		string(m.Method), nullableTime(m.ResolutionTime), m.OutcomeAlignment,
		m.Active, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert mapping %s: %w", m.ID, err)
	}
	return nil
}

// SetActive flips a mapping's active flag.
func (s *MappingStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE event_mappings SET active = $2, updated_at = NOW() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("postgres: set mapping %s active: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns one mapping.
func (s *MappingStore) GetByID(ctx context.Context, id string) (domain.EventMapping, error) {
	row := s.pool.QueryRow(ctx, selectMapping+` WHERE id = $1`, id)
	m, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EventMapping{}, domain.ErrNotFound
		}
		return domain.EventMapping{}, fmt.Errorf("postgres: get mapping %s: %w", id, err)
	}
	return m, nil
}

// List returns every mapping, active and inactive, oldest first.
func (s *MappingStore) List(ctx context.Context) ([]domain.EventMapping, error) {
	rows, err := s.pool.Query(ctx, selectMapping+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mappings: %w", err)
	}
	defer rows.Close()

	var list []domain.EventMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan mapping: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

const selectMapping = `
	SELECT id, poly_contract, kalshi_contract, description, confidence, method,
	       resolution_time, outcome_alignment, active, created_at, updated_at
	FROM event_mappings`

func scanMapping(row pgx.Row) (domain.EventMapping, error) {
	var m domain.EventMapping
	var method string
	var resolution *time.Time
	err := row.Scan(&m.ID, &m.PolyContract, &m.KalshiContract, &m.Description,
		&m.Confidence, &method, &resolution, &m.OutcomeAlignment, &m.Active,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.EventMapping{}, err
	}
	m.Method = domain.MatchMethod(method)
	if resolution != nil {
		m.ResolutionTime = *resolution
	}
	return m, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
