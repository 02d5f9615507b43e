package search

import "testing"

func TestSimilarity(t *testing.T) {
	tests := []struct {
		query string
		value string
		match bool
	}{
		{query: "grocery", value: "Grocery run", match: true},
		{query: "grocery", value: "Grocey store", match: true},
		{query: "grocery", value: "Grcoery", match: true},
		{query: "grocery", value: "Gallery", match: false},
		{query: "cafe", value: "Cafe Nero", match: true},
		{query: "cafe", value: "Cake shop", match: true},
		{query: "cafe", value: "Cask", match: false},
		{query: "tv", value: "TV licence", match: true},
		{query: "tv", value: "TX fee", match: false},
		{query: "whole foods", value: "Whole Fods Market", match: true},
		{query: "rent", value: "", match: false},
		{query: "", value: "anything", match: true},
	}

	for _, tt := range tests {
		_, ok := similarity(normalizeText(tt.query), tt.value)
		if ok != tt.match {
			t.Fatalf("similarity(%q, %q) match=%v, want %v", tt.query, tt.value, ok, tt.match)
		}
	}
}

func TestSimilarityPrefersCloserMatches(t *testing.T) {
	exact, _ := similarity("starbucks", "Starbucks Reserve")
	typo, _ := similarity("starbucks", "Starbcks")
	if exact <= typo {
		t.Fatalf("expected substring score %f above typo score %f", exact, typo)
	}
}

func TestMaxEdits(t *testing.T) {
	cases := map[string]int{"ab": 0, "abc": 1, "abcd": 1, "abcde": 2, "ünïcödé": 2}
	for query, want := range cases {
		if got := maxEdits(query); got != want {
			t.Fatalf("maxEdits(%q)=%d want %d", query, got, want)
		}
	}
}
