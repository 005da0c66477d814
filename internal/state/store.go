// Package state persists the bot's durable runtime state as a single JSON
// snapshot document: daily counters, circuit-breaker state, and the canonical
// open-position set.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// knownKeys are the snapshot fields this version reads. Anything else in the
// document is preserved verbatim across load/snapshot cycles so an older
// binary never destroys a newer one's fields.
var knownKeys = map[string]bool{
	"daily":                 true,
	"circuit_breaker":       true,
	"positions":             true,
	"hypothetical_pnl":      true,
	"last_heartbeat":        true,
	"last_successful_trade": true,
}

// Store owns the in-memory state object and its on-disk snapshot. Writes go
// through the mutex; Snapshot copies the state under the lock and writes the
// copy outside it, so a snapshot always reflects one consistent instant.
type Store struct {
	cfg    config.StateConfig
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state domain.BotState
	extra map[string]json.RawMessage

	snapshotErrs int
	escalate     func(context.Context)
}

// NewStore builds a Store. Call Load before first use.
func NewStore(cfg config.StateConfig, logger *slog.Logger) *Store {
	return &Store{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "state")),
		now:    time.Now,
		extra:  make(map[string]json.RawMessage),
	}
}

// SetEscalation registers the callback invoked when snapshot writes have
// failed persistently and recovery can no longer be guaranteed.
func (s *Store) SetEscalation(fn func(context.Context)) {
	s.mu.Lock()
	s.escalate = fn
	s.mu.Unlock()
}

// Load reads the last snapshot, applying the UTC daily rollover when the
// persisted trading date is stale. A missing file yields a zero state. The
// returned warnings feed the startup auto-start policy; they do not prevent
// loading.
func (s *Store) Load() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.cfg.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		s.state = domain.BotState{}
		s.state.Daily.TradingDate = s.now().UTC().Format(domain.TradingDateLayout)
		s.logger.Info("no state file, starting fresh", slog.String("path", s.cfg.FilePath))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", s.cfg.FilePath, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", s.cfg.FilePath, err)
	}
	var st domain.BotState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", s.cfg.FilePath, err)
	}

	s.extra = make(map[string]json.RawMessage)
	for k, v := range doc {
		if !knownKeys[k] {
			s.extra[k] = v
		}
	}

	var warnings []string

	today := s.now().UTC().Format(domain.TradingDateLayout)
	if st.Daily.TradingDate != today {
		s.logger.Info("daily rollover",
			slog.String("from", st.Daily.TradingDate),
			slog.String("to", today))
		st.Daily = domain.DailyState{TradingDate: today}
	}

	if !st.LastHeartbeat.IsZero() {
		age := s.now().UTC().Sub(st.LastHeartbeat)
		maxAge := time.Duration(s.cfg.MaxStateAgeMinutes) * time.Minute
		if age > maxAge {
			warnings = append(warnings, fmt.Sprintf("state is %s old (max %s)", age.Round(time.Second), maxAge))
		}
	}
	if st.CircuitBreaker.Paused {
		warnings = append(warnings, fmt.Sprintf("circuit breaker was paused: %s", st.CircuitBreaker.Reason))
	}
	for _, p := range st.Positions {
		if p.Quantity <= 0 {
			warnings = append(warnings, fmt.Sprintf("position %s has non-positive quantity", p.ID))
		}
	}
	warnings = append(warnings, unhedgedWarnings(st.Positions)...)

	s.state = st
	s.logger.Info("state loaded",
		slog.Int("positions", len(st.Positions)),
		slog.Float64("daily_pnl", st.Daily.PnL),
		slog.Bool("cb_paused", st.CircuitBreaker.Paused))
	return warnings, nil
}

// unhedgedWarnings flags mappings whose recovered positions do not net out.
// A hedged arb trade holds equal yes and no quantity on opposite venues; any
// residual means one leg is live without its counterpart, which is exactly
// the exposure a crash mid-execution leaves behind.
func unhedgedWarnings(positions []domain.Position) []string {
	net := make(map[string]float64)
	for _, p := range positions {
		if p.Side == domain.SideNo {
			net[p.MappingID] -= p.Quantity
		} else {
			net[p.MappingID] += p.Quantity
		}
	}

	ids := make([]string, 0, len(net))
	for id := range net {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var warnings []string
	for _, id := range ids {
		if n := net[id]; math.Abs(n) > 1e-9 {
			warnings = append(warnings, fmt.Sprintf("mapping %s has an unhedged net position of %+.2f contracts", id, n))
		}
	}
	return warnings
}

// Snapshot writes the current state atomically: marshal a consistent copy,
// write to a temp file in the same directory, fsync, then rename over the
// target. A crash at any byte leaves either the old or the new complete
// document on disk.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	st := s.copyStateLocked()
	st.LastHeartbeat = s.now().UTC()
	s.state.LastHeartbeat = st.LastHeartbeat
	extra := make(map[string]json.RawMessage, len(s.extra))
	for k, v := range s.extra {
		extra[k] = v
	}
	s.mu.Unlock()

	doc, err := mergeDocument(st, extra)
	if err != nil {
		return s.recordSnapshotErr(fmt.Errorf("state: marshal snapshot: %w", err))
	}

	dir := filepath.Dir(s.cfg.FilePath)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return s.recordSnapshotErr(fmt.Errorf("state: create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return s.recordSnapshotErr(fmt.Errorf("state: write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return s.recordSnapshotErr(fmt.Errorf("state: sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return s.recordSnapshotErr(fmt.Errorf("state: close temp file: %w", err))
	}
	if err := os.Rename(tmpName, s.cfg.FilePath); err != nil {
		return s.recordSnapshotErr(fmt.Errorf("state: rename snapshot: %w", err))
	}

	s.mu.Lock()
	s.snapshotErrs = 0
	s.mu.Unlock()
	return nil
}

// recordSnapshotErr counts consecutive snapshot failures. The in-memory state
// stays intact; after the configured run of failures, persistence is declared
// unrecoverable and the escalation callback fires.
func (s *Store) recordSnapshotErr(err error) error {
	s.mu.Lock()
	s.snapshotErrs++
	n := s.snapshotErrs
	escalate := s.escalate
	s.mu.Unlock()

	s.logger.Error("snapshot failed",
		slog.String("error", err.Error()),
		slog.Int("consecutive", n))

	if n >= s.cfg.MaxSnapshotErrors && escalate != nil {
		escalate(context.Background())
	}
	return err
}

// mergeDocument marshals st and re-attaches the preserved unknown fields.
func mergeDocument(st domain.BotState, extra map[string]json.RawMessage) ([]byte, error) {
	known, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return known, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(known, &doc); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := doc[k]; !exists {
			doc[k] = v
		}
	}
	return json.Marshal(doc)
}

// State returns a consistent copy of the full state object.
func (s *Store) State() domain.BotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyStateLocked()
}

func (s *Store) copyStateLocked() domain.BotState {
	st := s.state
	st.Positions = make([]domain.Position, len(s.state.Positions))
	copy(st.Positions, s.state.Positions)
	return st
}

// RecordTrade increments the daily counters for one completed trade.
func (s *Store) RecordTrade(realizedPnL, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	now := s.now().UTC()
	s.state.Daily.PnL += realizedPnL
	s.state.Daily.TradeCount++
	s.state.Daily.Volume += volume
	s.state.Daily.LastTradeAt = &now
	s.state.LastSuccessfulTrade = &now
}

// rolloverLocked resets the daily counters when the UTC day has changed since
// the last write.
func (s *Store) rolloverLocked() {
	today := s.now().UTC().Format(domain.TradingDateLayout)
	if s.state.Daily.TradingDate != today {
		s.state.Daily = domain.DailyState{TradingDate: today}
	}
}

// Daily returns a copy of the daily counters.
func (s *Store) Daily() domain.DailyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Daily
}

// AddHypotheticalPnL accumulates dry-run profit tracking.
func (s *Store) AddHypotheticalPnL(delta float64) {
	s.mu.Lock()
	s.state.HypotheticalPnL += delta
	s.mu.Unlock()
}

// SetCircuitBreaker persists a breaker transition. The snapshot is written
// before this returns, so a pause is durable before any caller observes it.
func (s *Store) SetCircuitBreaker(_ context.Context, st domain.CircuitBreakerState) error {
	s.mu.Lock()
	s.state.CircuitBreaker = st
	s.mu.Unlock()
	return s.Snapshot()
}

// CircuitBreaker returns the persisted breaker state.
func (s *Store) CircuitBreaker() domain.CircuitBreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CircuitBreaker
}

// ApplyFill aggregates a fill into the canonical position set per
// (venue, contract, side): quantities add, the average price is
// quantity-weighted, and a position reduced to zero is discarded.
func (s *Store) ApplyFill(venue domain.Venue, contract, mappingID string, side domain.PositionSide, qty, price float64) domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for i, p := range s.state.Positions {
		if p.Venue == venue && p.Contract == contract && p.Side == side {
			total := p.Quantity + qty
			if total <= 0 {
				s.state.Positions = append(s.state.Positions[:i], s.state.Positions[i+1:]...)
				p.Quantity = 0
				p.UpdatedAt = now
				return p
			}
			p.AvgPrice = (p.AvgPrice*p.Quantity + price*qty) / total
			p.Quantity = total
			p.UpdatedAt = now
			s.state.Positions[i] = p
			return p
		}
	}

	pos := domain.Position{
		ID:        uuid.NewString(),
		Venue:     venue,
		Contract:  contract,
		MappingID: mappingID,
		Side:      side,
		Quantity:  qty,
		AvgPrice:  price,
		OpenedAt:  now,
		UpdatedAt: now,
	}
	s.state.Positions = append(s.state.Positions, pos)
	return pos
}

// Positions returns a copy of the canonical open-position set.
func (s *Store) Positions() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, len(s.state.Positions))
	copy(out, s.state.Positions)
	return out
}

// ReplacePositions swaps the canonical position set wholesale, used after
// reconciliation against venue-reported positions.
func (s *Store) ReplacePositions(positions []domain.Position) {
	s.mu.Lock()
	s.state.Positions = make([]domain.Position, len(positions))
	copy(s.state.Positions, positions)
	s.mu.Unlock()
}

// Run drives the auto-snapshot loop until ctx is cancelled, then writes one
// final snapshot before returning.
func (s *Store) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.AutoSaveIntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("auto-snapshot started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			if err := s.Snapshot(); err != nil {
				s.logger.Error("final snapshot failed", slog.String("error", err.Error()))
			}
			return ctx.Err()
		case <-ticker.C:
			// Errors are already counted and logged; the loop keeps going so a
			// transient disk problem does not kill the process.
			_ = s.Snapshot()
		}
	}
}
