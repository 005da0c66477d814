package matcher

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// SynonymTable rewrites market-title tokens to a canonical form and maps
// venue category labels to a shared equivalence class. Both venues label the
// same events differently ("BTC" vs "Bitcoin", "Elections" vs "Politics"), so
// matching runs over the canonical forms.
type SynonymTable struct {
	Tokens     map[string]string `toml:"tokens"`
	Categories map[string]string `toml:"categories"`
}

// defaultSynonyms covers the aliases seen most often across the two venues.
// A file loaded with LoadSynonyms extends (and may override) these.
func defaultSynonyms() SynonymTable {
	return SynonymTable{
		Tokens: map[string]string{
			"btc":   "bitcoin",
			"eth":   "ethereum",
			"sol":   "solana",
			"doge":  "dogecoin",
			"potus": "us president",
			"gop":   "republican",
			"dem":   "democrat",
			"fed":   "federal reserve",
			"1k":    "1000",
			"10k":   "10000",
			"100k":  "100000",
			"1m":    "1000000",
			"pct":   "percent",
			"usd":   "dollar",
		},
		Categories: map[string]string{
			"elections":      "politics",
			"political":      "politics",
			"politics":       "politics",
			"crypto":         "crypto",
			"cryptocurrency": "crypto",
			"digital assets": "crypto",
			"economics":      "economics",
			"financials":     "economics",
			"finance":        "economics",
			"macro":          "economics",
			"sports":         "sports",
			"science":        "science",
			"climate":        "science",
			"weather":        "science",
			"entertainment":  "entertainment",
			"culture":        "entertainment",
		},
	}
}

// LoadSynonyms returns the default table merged with entries from the TOML
// file at path. An empty path returns the defaults unchanged.
func LoadSynonyms(path string) (SynonymTable, error) {
	tbl := defaultSynonyms()
	if path == "" {
		return tbl, nil
	}

	var file SynonymTable
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if os.IsNotExist(err) {
			return tbl, nil
		}
		return SynonymTable{}, fmt.Errorf("matcher: load synonyms %s: %w", path, err)
	}
	for k, v := range file.Tokens {
		tbl.Tokens[k] = v
	}
	for k, v := range file.Categories {
		tbl.Categories[k] = v
	}
	return tbl, nil
}

// canonicalCategory maps a venue category label to its equivalence class.
// Unknown labels map to themselves so novel categories still compare equal
// when both venues use the same label.
func (t SynonymTable) canonicalCategory(label string) string {
	key := normalizeTitle(label, nil)
	if canon, ok := t.Categories[key]; ok {
		return canon
	}
	return key
}
