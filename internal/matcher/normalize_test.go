package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	syn := defaultSynonyms().Tokens

	tests := []struct {
		in   string
		want string
	}{
		{"Will Bitcoin close above $100,000?", "will bitcoin close above 100 000"},
		{"Will BTC close above 100k?", "will bitcoin close above 100000"},
		{"  Multiple   spaces\tand\nnewlines ", "multiple spaces and newlines"},
		{"POTUS approval above 50 pct", "us president approval above 50 percent"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeTitle(tt.in, syn), "input %q", tt.in)
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("kitten", "sitten"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestLevenshteinSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, levenshteinSimilarity("same", "same"))
	assert.Equal(t, 1.0, levenshteinSimilarity("", ""))
	assert.Equal(t, 0.0, levenshteinSimilarity("abc", "xyz"))
	assert.InDelta(t, 1-1.0/7, levenshteinSimilarity("kitten", "kittens"), 1e-9)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, jaccard(nil, nil))
	assert.Equal(t, 0.0, jaccard([]string{"a"}, nil))
	assert.Equal(t, 1.0, jaccard([]string{"a", "b"}, []string{"b", "a"}))
	assert.InDelta(t, 1.0/3, jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}

func TestSimilarityTakesBetterOfTwo(t *testing.T) {
	syn := defaultSynonyms().Tokens

	// Token reordering wrecks edit distance but not token overlap.
	a := "bitcoin above 100000 december 31"
	b := "december 31 bitcoin above 100000"
	assert.Equal(t, 1.0, similarity(a, b, syn))
}

func TestCanonicalCategory(t *testing.T) {
	tbl := defaultSynonyms()
	assert.Equal(t, "politics", tbl.canonicalCategory("Elections"))
	assert.Equal(t, "politics", tbl.canonicalCategory("politics"))
	assert.Equal(t, "crypto", tbl.canonicalCategory("Cryptocurrency"))
	assert.Equal(t, "economics", tbl.canonicalCategory("Financials"))
	// Unknown labels compare by their normalized form.
	assert.Equal(t, "esports", tbl.canonicalCategory("eSports"))
}
