// Package fuzzy implements the Fuzzy Matcher (spec §4.3): a multi-strategy
// approximate matcher producing scored candidates for a normalized term plus
// its variants against one coding system's vocabulary index.
package fuzzy

import (
	"context"
	"sort"
	"sync"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// Matcher implements domain.FuzzyMatcher over a domain.VocabularyStore.
// Per-system term lists and TF-IDF vectorizers are built lazily on first use
// and cached for the lifetime of the Matcher.
type Matcher struct {
	store domain.VocabularyStore

	mu      sync.RWMutex
	terms   map[domain.System][]domain.VocabularyTerm
	cosines map[domain.System]*cosineIndex
}

// New constructs a Matcher over store.
func New(store domain.VocabularyStore) *Matcher {
	return &Matcher{
		store:   store,
		terms:   make(map[domain.System][]domain.VocabularyTerm),
		cosines: make(map[domain.System]*cosineIndex),
	}
}

// Match implements domain.FuzzyMatcher (spec §4.3).
func (m *Matcher) Match(ctx context.Context, normalized *domain.NormalizedTerm, system domain.System, threshold float64, algorithms []domain.FuzzyAlgorithm, maxResults int) ([]domain.MappingCandidate, error) {
	if normalized == nil || normalized.Canonical == "" {
		return nil, nil
	}
	if len(algorithms) == 0 {
		algorithms = domain.AllFuzzyAlgorithms()
	}

	terms, err := m.termsFor(ctx, system)
	if err != nil {
		return nil, err
	}
	if len(terms) == 0 {
		return nil, nil
	}

	best := make(map[string]domain.MappingCandidate, len(terms))
	consider := func(code, display string, score float64, matchType domain.MatchType) {
		if score < threshold {
			return
		}
		cur, ok := best[code]
		if !ok || score > cur.Confidence {
			best[code] = domain.MappingCandidate{
				Code: code, System: system, Display: display,
				Confidence: score, MatchType: matchType, Source: domain.SourceVocabulary,
			}
		}
	}

	variants := normalized.Variants
	if len(variants) == 0 {
		variants = []string{normalized.Canonical}
	}
	for i, v := range variants {
		concepts, err := m.store.LookupNormalized(ctx, system, v)
		if err != nil {
			return nil, err
		}
		matchType := domain.MatchAbbreviation
		score := 0.95
		if i == 0 {
			matchType, score = domain.MatchNormalized, 1.0
		}
		for _, c := range concepts {
			consider(c.Code, c.Display, score, matchType)
		}
	}

	query := normalized.Canonical
	enabled := algorithmSet(algorithms)

	for _, term := range terms {
		if enabled[domain.AlgoLevenshtein] {
			consider(term.Code, term.Display, levenshteinRatio(query, term.Normalized), domain.MatchFuzzyRatio)
		}
		if enabled[domain.AlgoTokenSort] {
			if score, ok := tokenSortRatio(query, term.Normalized); ok {
				consider(term.Code, term.Display, score, domain.MatchFuzzyRatio)
			}
		}
		if enabled[domain.AlgoTokenSet] {
			if score, ok := tokenSetRatio(query, term.Normalized); ok {
				consider(term.Code, term.Display, score, domain.MatchFuzzyTokenSet)
			}
		}
		if enabled[domain.AlgoJaroWinkler] {
			consider(term.Code, term.Display, jaroWinkler(query, term.Normalized), domain.MatchFuzzyRatio)
		}
		if enabled[domain.AlgoPhonetic] {
			consider(term.Code, term.Display, phoneticScore(query, term.Normalized), domain.MatchPhonetic)
		}
	}

	if enabled[domain.AlgoCosine] {
		idx, err := m.cosineIndexFor(ctx, system, terms)
		if err != nil {
			return nil, err
		}
		for _, hit := range idx.scoreAll(query) {
			consider(hit.code, hit.display, hit.score, domain.MatchCosine)
		}
	}

	return rankAndTruncate(best, maxResults), nil
}

func rankAndTruncate(best map[string]domain.MappingCandidate, maxResults int) []domain.MappingCandidate {
	out := make([]domain.MappingCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return len(out[i].Display) < len(out[j].Display)
	})
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

func algorithmSet(algorithms []domain.FuzzyAlgorithm) map[domain.FuzzyAlgorithm]bool {
	set := make(map[domain.FuzzyAlgorithm]bool, len(algorithms))
	for _, a := range algorithms {
		set[a] = true
	}
	return set
}

func (m *Matcher) termsFor(ctx context.Context, system domain.System) ([]domain.VocabularyTerm, error) {
	m.mu.RLock()
	terms, ok := m.terms[system]
	m.mu.RUnlock()
	if ok {
		return terms, nil
	}

	terms, err := m.store.IterTerms(ctx, system)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.terms[system] = terms
	m.mu.Unlock()
	return terms, nil
}

func (m *Matcher) cosineIndexFor(ctx context.Context, system domain.System, terms []domain.VocabularyTerm) (*cosineIndex, error) {
	m.mu.RLock()
	idx, ok := m.cosines[system]
	m.mu.RUnlock()
	if ok {
		return idx, nil
	}

	idx = buildCosineIndex(terms)

	m.mu.Lock()
	m.cosines[system] = idx
	m.mu.Unlock()
	return idx, nil
}
