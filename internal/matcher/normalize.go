package matcher

import (
	"strings"
	"unicode"
)

// normalizeTitle lowercases a market title, strips punctuation, collapses
// whitespace, and rewrites each token through the synonym table. Two titles
// that normalize to the same string are considered an exact match.
func normalizeTitle(title string, syn map[string]string) string {
	return strings.Join(normalizeTokens(title, syn), " ")
}

// normalizeTokens returns the normalized token sequence of a title.
func normalizeTokens(title string, syn map[string]string) []string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	out := make([]string, 0, len(fields))
	for _, tok := range fields {
		if canon, ok := syn[tok]; ok {
			// A synonym may expand to multiple tokens ("potus" -> "us
			// president").
			out = append(out, strings.Fields(canon)...)
			continue
		}
		out = append(out, tok)
	}
	return out
}

// levenshteinSimilarity maps edit distance into [0,1]: identical strings
// score 1, completely different strings approach 0.
func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes the edit distance between two strings using the
// two-row dynamic programming formulation.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// jaccard computes token-set overlap: |A ∩ B| / |A ∪ B|.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// similarity is the combined fuzzy score used for candidate selection: the
// better of normalized edit distance and token overlap.
func similarity(titleA, titleB string, syn map[string]string) float64 {
	toksA := normalizeTokens(titleA, syn)
	toksB := normalizeTokens(titleB, syn)
	lev := levenshteinSimilarity(strings.Join(toksA, " "), strings.Join(toksB, " "))
	jac := jaccard(toksA, toksB)
	if jac > lev {
		return jac
	}
	return lev
}
