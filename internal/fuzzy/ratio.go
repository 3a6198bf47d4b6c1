package fuzzy

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// levenshteinRatio is spec §4.3's Levenshtein ratio:
// 1 - edit_distance / max(len_a, len_b).
func levenshteinRatio(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	dist := levenshtein.Distance(a, b, nil)
	return 1 - float64(dist)/float64(maxLen)
}

func tokenize(s string) []string {
	return strings.Fields(s)
}

// tokenSortRatio sorts each string's whitespace tokens before comparing.
// Single-token queries are skipped per spec §4.3's edge cases.
func tokenSortRatio(a, b string) (float64, bool) {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) <= 1 || len(tb) <= 1 {
		return 0, false
	}
	return levenshteinRatio(sortedJoin(ta), sortedJoin(tb)), true
}

// tokenSetRatio compares the sorted token intersection against the sorted
// token union. Single-token queries are skipped per spec §4.3's edge cases.
func tokenSetRatio(a, b string) (float64, bool) {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) <= 1 || len(tb) <= 1 {
		return 0, false
	}

	setA := toSet(ta)
	setB := toSet(tb)

	var intersection, union []string
	seenUnion := make(map[string]bool)
	for tok := range setA {
		union = append(union, tok)
		seenUnion[tok] = true
		if setB[tok] {
			intersection = append(intersection, tok)
		}
	}
	for tok := range setB {
		if !seenUnion[tok] {
			union = append(union, tok)
		}
	}

	return levenshteinRatio(sortedJoin(intersection), sortedJoin(union)), true
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func sortedJoin(tokens []string) string {
	cp := make([]string, len(tokens))
	copy(cp, tokens)
	sort.Strings(cp)
	return strings.Join(cp, " ")
}
