// Package matcher maintains the set of event mappings that link a Polymarket
// contract to the Kalshi contract for the same underlying event, and
// discovers new mappings from market listings by title similarity.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// Matcher holds the in-memory mapping index backed by the persistent store.
// Reads are lock-free after load except for the index lock; manual adds and
// discovery take the writer lock.
type Matcher struct {
	cfg      config.MatcherConfig
	store    domain.MappingStore
	synonyms SynonymTable
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	byID   map[string]domain.EventMapping
	byPair map[string]string // PairKey -> mapping ID, active mappings only
}

// New builds a Matcher. Call Load before first use.
func New(cfg config.MatcherConfig, store domain.MappingStore, logger *slog.Logger) (*Matcher, error) {
	syn, err := LoadSynonyms(cfg.SynonymsPath)
	if err != nil {
		return nil, err
	}
	return &Matcher{
		cfg:      cfg,
		store:    store,
		synonyms: syn,
		logger:   logger.With(slog.String("component", "matcher")),
		now:      time.Now,
		byID:     make(map[string]domain.EventMapping),
		byPair:   make(map[string]string),
	}, nil
}

// Load hydrates the in-memory index from the repository.
func (m *Matcher) Load(ctx context.Context) error {
	mappings, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("matcher: load mappings: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[string]domain.EventMapping, len(mappings))
	m.byPair = make(map[string]string, len(mappings))
	active := 0
	for _, mm := range mappings {
		m.byID[mm.ID] = mm
		if mm.Active {
			m.byPair[mm.PairKey()] = mm.ID
			active++
		}
	}
	m.logger.Info("mappings loaded",
		slog.Int("total", len(mappings)),
		slog.Int("active", active))
	return nil
}

// FindMatch searches kalshiMarkets for the listing describing the same event
// as polyMarket. It returns an unsaved candidate mapping and true when a
// listing clears the similarity threshold and the date/category guards;
// candidates are ranked by confidence, ties broken by earlier resolution
// date, then lexicographically smaller Kalshi contract.
func (m *Matcher) FindMatch(polyMarket domain.MarketListing, kalshiMarkets []domain.MarketListing) (domain.EventMapping, bool) {
	normPoly := normalizeTitle(polyMarket.Title, m.synonyms.Tokens)

	type candidate struct {
		listing    domain.MarketListing
		confidence float64
		method     domain.MatchMethod
	}
	var candidates []candidate

	for _, k := range kalshiMarkets {
		if !m.guardsPass(polyMarket, k) {
			continue
		}

		if normalizeTitle(k.Title, m.synonyms.Tokens) == normPoly {
			candidates = append(candidates, candidate{k, 1.0, domain.MatchExact})
			continue
		}

		score := similarity(polyMarket.Title, k.Title, m.synonyms.Tokens)
		if score >= m.cfg.FuzzyThreshold {
			candidates = append(candidates, candidate{k, score, domain.MatchFuzzy})
		}
	}

	if len(candidates) == 0 {
		return domain.EventMapping{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if !a.listing.ResolutionTime.Equal(b.listing.ResolutionTime) {
			return a.listing.ResolutionTime.Before(b.listing.ResolutionTime)
		}
		return a.listing.Contract < b.listing.Contract
	})

	best := candidates[0]
	now := m.now().UTC()
	return domain.EventMapping{
		ID:               uuid.NewString(),
		PolyContract:     polyMarket.Contract,
		KalshiContract:   best.listing.Contract,
		Description:      polyMarket.Title,
		Confidence:       best.confidence,
		Method:           best.method,
		ResolutionTime:   polyMarket.ResolutionTime,
		OutcomeAlignment: "yes/yes",
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, true
}

// guardsPass applies the date-tolerance and category-equivalence guards. Both
// apply to exact and fuzzy candidates alike.
func (m *Matcher) guardsPass(poly, kalshi domain.MarketListing) bool {
	if m.cfg.RequireDateMatch {
		tol := time.Duration(m.cfg.DateToleranceHours) * time.Hour
		gap := poly.ResolutionTime.Sub(kalshi.ResolutionTime)
		if gap < 0 {
			gap = -gap
		}
		if gap > tol {
			return false
		}
	}
	if m.cfg.RequireCategoryMatch {
		if m.synonyms.canonicalCategory(poly.Category) != m.synonyms.canonicalCategory(kalshi.Category) {
			return false
		}
	}
	return true
}

// Discover runs FindMatch for every Polymarket listing against the Kalshi
// listings, persists new mappings, and returns them. Pairs that already have
// an active mapping are skipped.
func (m *Matcher) Discover(ctx context.Context, polyMarkets, kalshiMarkets []domain.MarketListing) ([]domain.EventMapping, error) {
	var added []domain.EventMapping
	for _, p := range polyMarkets {
		mapping, ok := m.FindMatch(p, kalshiMarkets)
		if !ok {
			continue
		}

		m.mu.Lock()
		if _, exists := m.byPair[mapping.PairKey()]; exists {
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()

		if err := m.store.Insert(ctx, mapping); err != nil {
			return added, fmt.Errorf("matcher: persist mapping %s: %w", mapping.ID, err)
		}

		m.mu.Lock()
		m.byID[mapping.ID] = mapping
		m.byPair[mapping.PairKey()] = mapping.ID
		m.mu.Unlock()

		m.logger.Info("mapping discovered",
			slog.String("mapping_id", mapping.ID),
			slog.String("poly", mapping.PolyContract),
			slog.String("kalshi", mapping.KalshiContract),
			slog.Float64("confidence", mapping.Confidence),
			slog.String("method", string(mapping.Method)))
		added = append(added, mapping)
	}
	return added, nil
}

// AddManual registers an operator-verified mapping at confidence 1.0.
func (m *Matcher) AddManual(ctx context.Context, polyContract, kalshiContract, description string) (domain.EventMapping, error) {
	now := m.now().UTC()
	mapping := domain.EventMapping{
		ID:               uuid.NewString(),
		PolyContract:     polyContract,
		KalshiContract:   kalshiContract,
		Description:      description,
		Confidence:       1.0,
		Method:           domain.MatchManual,
		OutcomeAlignment: "yes/yes",
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	m.mu.Lock()
	if existing, exists := m.byPair[mapping.PairKey()]; exists {
		m.mu.Unlock()
		return domain.EventMapping{}, fmt.Errorf("matcher: pair already mapped by %s", existing)
	}
	m.mu.Unlock()

	if err := m.store.Insert(ctx, mapping); err != nil {
		return domain.EventMapping{}, fmt.Errorf("matcher: persist manual mapping: %w", err)
	}

	m.mu.Lock()
	m.byID[mapping.ID] = mapping
	m.byPair[mapping.PairKey()] = mapping.ID
	m.mu.Unlock()

	m.logger.Info("manual mapping added",
		slog.String("mapping_id", mapping.ID),
		slog.String("poly", polyContract),
		slog.String("kalshi", kalshiContract))
	return mapping, nil
}

// Deactivate marks a mapping inactive. The record is retained for history.
func (m *Matcher) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	mapping, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("matcher: mapping %s: %w", id, domain.ErrNotFound)
	}

	if err := m.store.SetActive(ctx, id, false); err != nil {
		return fmt.Errorf("matcher: deactivate %s: %w", id, err)
	}

	m.mu.Lock()
	mapping.Active = false
	mapping.UpdatedAt = m.now().UTC()
	m.byID[id] = mapping
	delete(m.byPair, mapping.PairKey())
	m.mu.Unlock()
	return nil
}

// CanTrade reports whether a mapping is eligible for execution.
func (m *Matcher) CanTrade(mapping domain.EventMapping) bool {
	return mapping.Active && mapping.Confidence >= m.cfg.MinTradeConfidence
}

// ActiveMappings returns a snapshot of the tradable mapping set, ordered by
// creation time for a stable scan order.
func (m *Matcher) ActiveMappings() []domain.EventMapping {
	m.mu.RLock()
	out := make([]domain.EventMapping, 0, len(m.byPair))
	for _, id := range m.byPair {
		out = append(out, m.byID[id])
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a mapping by ID from the in-memory index.
func (m *Matcher) Get(id string) (domain.EventMapping, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mapping, ok := m.byID[id]
	return mapping, ok
}
