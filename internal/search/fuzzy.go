package search

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// maxEdits is the typo budget for a query: none below 3 runes, one up to 4,
// two from 5 on.
func maxEdits(query string) int {
	switch n := utf8.RuneCountInString(query); {
	case n < 3:
		return 0
	case n < 5:
		return 1
	default:
		return 2
	}
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// similarity scores value against an already normalized query in [0, 1].
// Substring hits score 1. Otherwise every run of words as long as the query is
// compared by edit distance and the closest one within budget wins.
func similarity(query, value string) (float64, bool) {
	if query == "" {
		return 1, true
	}
	value = normalizeText(value)
	if value == "" {
		return 0, false
	}
	if strings.Contains(value, query) {
		return 1, true
	}

	budget := maxEdits(query)
	if budget == 0 {
		return 0, false
	}

	words := strings.Fields(value)
	span := len(strings.Fields(query))
	if span > len(words) {
		span = len(words)
	}

	best := -1
	bestLen := 0
	for i := 0; i+span <= len(words); i++ {
		window := strings.Join(words[i:i+span], " ")
		d := levenshtein.ComputeDistance(query, window)
		if best < 0 || d < best {
			best = d
			bestLen = utf8.RuneCountInString(window)
		}
	}
	if best < 0 || best > budget {
		return 0, false
	}

	longest := utf8.RuneCountInString(query)
	if bestLen > longest {
		longest = bestLen
	}
	return 1 - float64(best)/float64(longest), true
}
