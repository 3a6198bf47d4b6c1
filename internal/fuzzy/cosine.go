package fuzzy

import (
	"math"
	"strings"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// maxCosineTokens truncates very long terms for the cosine algorithm, per
// spec §4.3's edge case.
const maxCosineTokens = 64

// ngramSizes are the character n-gram lengths the cosine vectorizer uses,
// per spec §4.3.
var ngramSizes = []int{2, 3, 4}

// cosineHit is one scored concept produced by a cosineIndex query.
type cosineHit struct {
	code    string
	display string
	score   float64
}

// cosineIndex is a character-n-gram TF-IDF vectorizer fit once per
// vocabulary (spec §4.3): document frequencies are computed across every
// vocabulary term at build time, and each term's vector is precomputed so
// queries only need one pass.
type cosineIndex struct {
	idf  map[string]float64
	docs []cosineDoc
}

type cosineDoc struct {
	code, display string
	vector        map[string]float64
	norm          float64
}

// buildCosineIndex fits document frequencies over terms and precomputes each
// term's TF-IDF vector.
func buildCosineIndex(terms []domain.VocabularyTerm) *cosineIndex {
	df := make(map[string]int)
	termGrams := make([][]string, len(terms))

	for i, t := range terms {
		grams := ngramsOf(t.Normalized)
		termGrams[i] = grams
		seen := make(map[string]bool, len(grams))
		for _, g := range grams {
			if !seen[g] {
				seen[g] = true
				df[g]++
			}
		}
	}

	n := float64(len(terms))
	idf := make(map[string]float64, len(df))
	for g, count := range df {
		idf[g] = math.Log(n/(1+float64(count))) + 1
	}

	docs := make([]cosineDoc, len(terms))
	for i, t := range terms {
		vec, norm := tfidfVector(termGrams[i], idf)
		docs[i] = cosineDoc{code: t.Code, display: t.Display, vector: vec, norm: norm}
	}

	return &cosineIndex{idf: idf, docs: docs}
}

// scoreAll computes the cosine similarity of query against every document in
// the index, returning one hit per document scoring above zero.
func (idx *cosineIndex) scoreAll(query string) []cosineHit {
	queryVec, queryNorm := tfidfVector(ngramsOf(query), idx.idf)
	if queryNorm == 0 {
		return nil
	}

	hits := make([]cosineHit, 0, len(idx.docs))
	for _, doc := range idx.docs {
		if doc.norm == 0 {
			continue
		}
		var dot float64
		for g, w := range queryVec {
			dot += w * doc.vector[g]
		}
		score := dot / (queryNorm * doc.norm)
		if score > 0 {
			hits = append(hits, cosineHit{code: doc.code, display: doc.display, score: score})
		}
	}
	return hits
}

func tfidfVector(grams []string, idf map[string]float64) (map[string]float64, float64) {
	tf := make(map[string]int, len(grams))
	for _, g := range grams {
		tf[g]++
	}

	vec := make(map[string]float64, len(tf))
	var sumSquares float64
	for g, count := range tf {
		w := float64(count) * idf[g]
		vec[g] = w
		sumSquares += w * w
	}
	return vec, math.Sqrt(sumSquares)
}

// ngramsOf tokenizes s and produces character n-grams (n in 2,3,4) per
// token, truncating the token list at maxCosineTokens.
func ngramsOf(s string) []string {
	tokens := strings.Fields(s)
	if len(tokens) > maxCosineTokens {
		tokens = tokens[:maxCosineTokens]
	}

	var grams []string
	for _, tok := range tokens {
		runes := []rune(tok)
		for _, n := range ngramSizes {
			if len(runes) < n {
				continue
			}
			for i := 0; i+n <= len(runes); i++ {
				grams = append(grams, string(runes[i:i+n]))
			}
		}
	}
	return grams
}
