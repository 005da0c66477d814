package matcher

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

type memMappingStore struct {
	mappings map[string]domain.EventMapping
	inserts  int
}

func newMemMappingStore() *memMappingStore {
	return &memMappingStore{mappings: make(map[string]domain.EventMapping)}
}

func (s *memMappingStore) Insert(_ context.Context, m domain.EventMapping) error {
	s.mappings[m.ID] = m
	s.inserts++
	return nil
}

func (s *memMappingStore) SetActive(_ context.Context, id string, active bool) error {
	m, ok := s.mappings[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Active = active
	s.mappings[id] = m
	return nil
}

func (s *memMappingStore) GetByID(_ context.Context, id string) (domain.EventMapping, error) {
	m, ok := s.mappings[id]
	if !ok {
		return domain.EventMapping{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMappingStore) List(_ context.Context) ([]domain.EventMapping, error) {
	out := make([]domain.EventMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		out = append(out, m)
	}
	return out, nil
}

func testMatcher(t *testing.T, store domain.MappingStore) *Matcher {
	t.Helper()
	cfg := config.Defaults().Matcher
	m, err := New(cfg, store, slog.Default())
	require.NoError(t, err)
	return m
}

func listing(venue domain.Venue, contract, title, category string, res time.Time) domain.MarketListing {
	return domain.MarketListing{
		Venue:          venue,
		Contract:       contract,
		Title:          title,
		Category:       category,
		ResolutionTime: res,
	}
}

func TestFindMatchExact(t *testing.T) {
	m := testMatcher(t, newMemMappingStore())
	res := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)

	poly := listing(domain.VenuePolymarket, "0xabc", "Will Bitcoin close above $100,000 on Dec 31?", "Crypto", res)
	kalshi := []domain.MarketListing{
		listing(domain.VenueKalshi, "KXBTC-100K", "Will Bitcoin close above $100,000 on Dec 31?", "Crypto", res),
		listing(domain.VenueKalshi, "KXETH-5K", "Will Ethereum close above $5,000 on Dec 31?", "Crypto", res),
	}

	got, ok := m.FindMatch(poly, kalshi)
	require.True(t, ok)
	assert.Equal(t, "KXBTC-100K", got.KalshiContract)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, domain.MatchExact, got.Method)
	assert.True(t, got.Active)
}

func TestFindMatchSynonyms(t *testing.T) {
	m := testMatcher(t, newMemMappingStore())
	res := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	// "BTC" and "100k" normalize to "bitcoin" and "100000", making the
	// titles identical after rewriting.
	poly := listing(domain.VenuePolymarket, "0xabc", "Will BTC close above 100k on Dec 31?", "Crypto", res)
	kalshi := []domain.MarketListing{
		listing(domain.VenueKalshi, "KXBTC", "Will Bitcoin close above 100000 on Dec 31?", "Cryptocurrency", res),
	}

	got, ok := m.FindMatch(poly, kalshi)
	require.True(t, ok)
	assert.Equal(t, domain.MatchExact, got.Method)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestFindMatchFuzzy(t *testing.T) {
	m := testMatcher(t, newMemMappingStore())
	res := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	poly := listing(domain.VenuePolymarket, "0xabc", "Will Bitcoin close above $100,000 on December 31 2026?", "Crypto", res)
	kalshi := []domain.MarketListing{
		listing(domain.VenueKalshi, "KXBTC", "Will Bitcoin close above $100,000 on December 31, 2026", "Crypto", res),
	}

	got, ok := m.FindMatch(poly, kalshi)
	require.True(t, ok)
	assert.Equal(t, domain.MatchExact, got.Method) // punctuation-only difference normalizes away
}

func TestFindMatchBelowThreshold(t *testing.T) {
	m := testMatcher(t, newMemMappingStore())
	res := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	poly := listing(domain.VenuePolymarket, "0xabc", "Will Bitcoin close above $100,000?", "Crypto", res)
	kalshi := []domain.MarketListing{
		listing(domain.VenueKalshi, "KXETH", "Will Ethereum close above $5,000?", "Crypto", res),
	}

	_, ok := m.FindMatch(poly, kalshi)
	assert.False(t, ok)
}

func TestFindMatchDateGuard(t *testing.T) {
	m := testMatcher(t, newMemMappingStore())
	res := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	poly := listing(domain.VenuePolymarket, "0xabc", "Will Bitcoin close above $100,000?", "Crypto", res)
	kalshi := []domain.MarketListing{
		// Same title but resolves 3 days later: different event.
		listing(domain.VenueKalshi, "KXBTC", "Will Bitcoin close above $100,000?", "Crypto", res.Add(72*time.Hour)),
	}

	_, ok := m.FindMatch(poly, kalshi)
	assert.False(t, ok)

	// Within the 24h tolerance it matches.
	kalshi[0].ResolutionTime = res.Add(12 * time.Hour)
	_, ok = m.FindMatch(poly, kalshi)
	assert.True(t, ok)
}

func TestFindMatchCategoryGuard(t *testing.T) {
	m := testMatcher(t, newMemMappingStore())
	res := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	poly := listing(domain.VenuePolymarket, "0xabc", "Will the CPI print above 3 percent?", "Economics", res)

	// Equivalent category labels pass.
	kalshi := []domain.MarketListing{
		listing(domain.VenueKalshi, "KXCPI", "Will the CPI print above 3 percent?", "Financials", res),
	}
	_, ok := m.FindMatch(poly, kalshi)
	assert.True(t, ok)

	// Incompatible categories reject even an exact title match.
	kalshi[0].Category = "Sports"
	_, ok = m.FindMatch(poly, kalshi)
	assert.False(t, ok)
}

func TestFindMatchTieBreak(t *testing.T) {
	m := testMatcher(t, newMemMappingStore())
	res := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	poly := listing(domain.VenuePolymarket, "0xabc", "Will Bitcoin close above $100,000?", "Crypto", res)
	kalshi := []domain.MarketListing{
		listing(domain.VenueKalshi, "KXBTC-B", "Will Bitcoin close above $100,000?", "Crypto", res),
		listing(domain.VenueKalshi, "KXBTC-A", "Will Bitcoin close above $100,000?", "Crypto", res),
	}

	got, ok := m.FindMatch(poly, kalshi)
	require.True(t, ok)
	// Equal confidence and resolution date: lexicographically smaller id wins.
	assert.Equal(t, "KXBTC-A", got.KalshiContract)

	// An earlier resolution date beats the lexicographic rule.
	kalshi[0].ResolutionTime = res.Add(-6 * time.Hour)
	got, ok = m.FindMatch(poly, kalshi)
	require.True(t, ok)
	assert.Equal(t, "KXBTC-B", got.KalshiContract)
}

func TestDiscoverPersistsAndSkipsExisting(t *testing.T) {
	store := newMemMappingStore()
	m := testMatcher(t, store)
	ctx := context.Background()
	res := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	polys := []domain.MarketListing{
		listing(domain.VenuePolymarket, "0xabc", "Will Bitcoin close above $100,000?", "Crypto", res),
	}
	kalshis := []domain.MarketListing{
		listing(domain.VenueKalshi, "KXBTC", "Will Bitcoin close above $100,000?", "Crypto", res),
	}

	added, err := m.Discover(ctx, polys, kalshis)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, 1, store.inserts)
	assert.Len(t, m.ActiveMappings(), 1)

	// Second pass finds the same pair and skips it.
	added, err = m.Discover(ctx, polys, kalshis)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, 1, store.inserts)
}

func TestAddManualRejectsDuplicatePair(t *testing.T) {
	m := testMatcher(t, newMemMappingStore())
	ctx := context.Background()

	first, err := m.AddManual(ctx, "0xabc", "KXBTC", "btc 100k")
	require.NoError(t, err)
	assert.Equal(t, 1.0, first.Confidence)
	assert.Equal(t, domain.MatchManual, first.Method)

	_, err = m.AddManual(ctx, "0xabc", "KXBTC", "btc 100k again")
	require.Error(t, err)
}

func TestCanTrade(t *testing.T) {
	m := testMatcher(t, newMemMappingStore())

	assert.True(t, m.CanTrade(domain.EventMapping{Active: true, Confidence: 0.97}))
	assert.False(t, m.CanTrade(domain.EventMapping{Active: true, Confidence: 0.90}))
	assert.False(t, m.CanTrade(domain.EventMapping{Active: false, Confidence: 1.0}))
}

func TestDeactivateRemovesFromActiveSet(t *testing.T) {
	m := testMatcher(t, newMemMappingStore())
	ctx := context.Background()

	mapping, err := m.AddManual(ctx, "0xabc", "KXBTC", "btc 100k")
	require.NoError(t, err)
	require.Len(t, m.ActiveMappings(), 1)

	require.NoError(t, m.Deactivate(ctx, mapping.ID))
	assert.Empty(t, m.ActiveMappings())

	// Record is retained.
	got, ok := m.Get(mapping.ID)
	require.True(t, ok)
	assert.False(t, got.Active)
}

func TestLoadHydratesIndex(t *testing.T) {
	store := newMemMappingStore()
	now := time.Now().UTC()
	store.mappings["m1"] = domain.EventMapping{
		ID: "m1", PolyContract: "0xabc", KalshiContract: "KXBTC",
		Confidence: 1.0, Method: domain.MatchManual, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}
	store.mappings["m2"] = domain.EventMapping{
		ID: "m2", PolyContract: "0xdef", KalshiContract: "KXETH",
		Confidence: 0.96, Method: domain.MatchFuzzy, Active: false,
		CreatedAt: now, UpdatedAt: now,
	}

	m := testMatcher(t, store)
	require.NoError(t, m.Load(context.Background()))

	active := m.ActiveMappings()
	require.Len(t, active, 1)
	assert.Equal(t, "m1", active[0].ID)

	_, ok := m.Get("m2")
	assert.True(t, ok)
}
