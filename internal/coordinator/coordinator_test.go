package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/executor"
)

type stubNormalizer struct{}

func (stubNormalizer) Normalize(text string) (*domain.NormalizedTerm, error) {
	return &domain.NormalizedTerm{Original: text, Canonical: text}, nil
}

type stubVocab struct {
	systems []domain.System
	counts  map[domain.System]int
}

func (s stubVocab) GetByCode(context.Context, domain.System, string) (*domain.Concept, error) {
	return nil, nil
}
func (s stubVocab) LookupNormalized(context.Context, domain.System, string) ([]*domain.Concept, error) {
	return nil, nil
}
func (s stubVocab) IterTerms(context.Context, domain.System) ([]domain.VocabularyTerm, error) {
	return nil, nil
}
func (s stubVocab) SearchPrefix(context.Context, domain.System, string, int) ([]*domain.Concept, error) {
	return nil, nil
}
func (s stubVocab) ConceptCount(system domain.System) int    { return s.counts[system] }
func (s stubVocab) SupportedSystems() []domain.System        { return s.systems }

type stubFuzzy struct {
	results map[domain.System][]domain.MappingCandidate
	errs    map[domain.System]error
}

func (s stubFuzzy) Match(_ context.Context, _ *domain.NormalizedTerm, system domain.System, _ float64, _ []domain.FuzzyAlgorithm, _ int) ([]domain.MappingCandidate, error) {
	if err, ok := s.errs[system]; ok {
		return nil, err
	}
	return s.results[system], nil
}

type stubContext struct {
	out *domain.ContextOut
	err error
}

func (s stubContext) Analyze(context.Context, domain.ContextInput, domain.Span) (*domain.ContextOut, error) {
	return s.out, s.err
}

type stubRules struct {
	version uint64
	applyFn func(map[domain.System][]domain.MappingCandidate) (map[domain.System][]domain.MappingCandidate, []domain.RuleApplication, error)
}

func (s stubRules) Add(context.Context, *domain.CustomRule) error      { return nil }
func (s stubRules) Update(context.Context, *domain.CustomRule) error   { return nil }
func (s stubRules) Deactivate(context.Context, string) error           { return nil }
func (s stubRules) Get(context.Context, string) (*domain.CustomRule, error) { return nil, nil }
func (s stubRules) List(context.Context, bool) ([]*domain.CustomRule, error) { return nil, nil }
func (s stubRules) Export(context.Context) (*domain.RuleExport, error) { return &domain.RuleExport{}, nil }
func (s stubRules) Import(context.Context, *domain.RuleExport) (int, error) { return 0, nil }
func (s stubRules) FindMatches(context.Context, *domain.NormalizedTerm, *domain.ContextOut) ([]domain.RuleMatch, error) {
	return nil, nil
}
func (s stubRules) Apply(_ context.Context, _ *domain.NormalizedTerm, base map[domain.System][]domain.MappingCandidate, _ *domain.ContextOut) (map[domain.System][]domain.MappingCandidate, []domain.RuleApplication, error) {
	if s.applyFn != nil {
		return s.applyFn(base)
	}
	return base, nil, nil
}
func (s stubRules) Version() uint64 { return s.version }

type stubCache struct {
	store map[string]*domain.MappingResult
}

func (s *stubCache) Get(_ context.Context, key domain.CacheKey) (*domain.MappingResult, bool, error) {
	if s.store == nil {
		return nil, false, nil
	}
	r, ok := s.store[fmt.Sprintf("%+v", key)]
	return r, ok, nil
}
func (s *stubCache) Set(_ context.Context, key domain.CacheKey, result *domain.MappingResult) error {
	if s.store == nil {
		s.store = map[string]*domain.MappingResult{}
	}
	s.store[fmt.Sprintf("%+v", key)] = result
	return nil
}
func (s *stubCache) InvalidateAll(context.Context) error { s.store = nil; return nil }
func (s *stubCache) Stats() domain.CacheStats            { return domain.CacheStats{} }

func newTestCoordinator(fuzzy stubFuzzy, rules stubRules, ctxAnalyzer stubContext, cache *stubCache) *Coordinator {
	return New(
		stubNormalizer{},
		stubVocab{systems: []domain.System{domain.SystemSNOMED, domain.SystemLOINC}, counts: map[domain.System]int{domain.SystemSNOMED: 10}},
		fuzzy,
		ctxAnalyzer,
		rules,
		cache,
		executor.New(domain.WorkersConfig{}),
		domain.FuzzyConfig{DefaultThreshold: 0.7},
		nil,
	)
}

func TestMapTerm_CacheMissThenHit(t *testing.T) {
	fuzzy := stubFuzzy{results: map[domain.System][]domain.MappingCandidate{
		domain.SystemSNOMED: {{Code: "123", System: domain.SystemSNOMED, Display: "Chest pain", Confidence: 0.9, MatchType: domain.MatchNormalized, Source: domain.SourceVocabulary}},
	}}
	cache := &stubCache{}
	c := newTestCoordinator(fuzzy, stubRules{}, stubContext{}, cache)

	req := domain.TermRequest{Text: "chest pain", Systems: []domain.System{domain.SystemSNOMED}}

	first, err := c.MapTerm(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "miss", first.ProcessingMetadata.CacheStatus)
	require.Len(t, first.PerSystem[domain.SystemSNOMED], 1)

	second, err := c.MapTerm(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "hit", second.ProcessingMetadata.CacheStatus)
	assert.Equal(t, first.PerSystem, second.PerSystem)
}

func TestMapTerm_DegradesVocabularyFailureWithoutAbortingTerm(t *testing.T) {
	fuzzy := stubFuzzy{
		results: map[domain.System][]domain.MappingCandidate{
			domain.SystemLOINC: {{Code: "L1", System: domain.SystemLOINC, Display: "Glucose", Confidence: 0.8, MatchType: domain.MatchExact, Source: domain.SourceVocabulary}},
		},
		errs: map[domain.System]error{
			domain.SystemSNOMED: domain.NewVocabularyUnavailableError(domain.SystemSNOMED, errors.New("index not loaded")),
		},
	}
	c := newTestCoordinator(fuzzy, stubRules{}, stubContext{}, &stubCache{})

	req := domain.TermRequest{Text: "glucose", Systems: []domain.System{domain.SystemSNOMED, domain.SystemLOINC}}

	result, err := c.MapTerm(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, result.ProcessingMetadata.DegradedSystems, domain.SystemSNOMED)
	assert.Empty(t, result.PerSystem[domain.SystemSNOMED])
	require.Len(t, result.PerSystem[domain.SystemLOINC], 1)
}

func TestMapTerm_NegationReducesConfidenceAndFlagsCandidate(t *testing.T) {
	fuzzy := stubFuzzy{results: map[domain.System][]domain.MappingCandidate{
		domain.SystemSNOMED: {{Code: "123", System: domain.SystemSNOMED, Display: "Chest pain", Confidence: 0.9, MatchType: domain.MatchNormalized, Source: domain.SourceVocabulary}},
	}}
	ctxAnalyzer := stubContext{out: &domain.ContextOut{IsNegated: true, NegationConfidence: 0.9, NegationCue: "denies"}}
	c := newTestCoordinator(fuzzy, stubRules{}, ctxAnalyzer, &stubCache{})

	req := domain.TermRequest{
		Text:    "chest pain",
		Systems: []domain.System{domain.SystemSNOMED},
		Context: &domain.ContextInput{SurroundingText: "Patient denies chest pain today."},
	}

	result, err := c.MapTerm(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.PerSystem[domain.SystemSNOMED], 1)
	cand := result.PerSystem[domain.SystemSNOMED][0]
	assert.True(t, cand.IsNegated)
	assert.InDelta(t, 0.27, cand.Confidence, 1e-9)
}

func TestMapTerm_TruncatesToMaxResultsAfterSorting(t *testing.T) {
	fuzzy := stubFuzzy{results: map[domain.System][]domain.MappingCandidate{
		domain.SystemSNOMED: {
			{Code: "low", System: domain.SystemSNOMED, Display: "Low", Confidence: 0.5, MatchType: domain.MatchFuzzyRatio, Source: domain.SourceVocabulary},
			{Code: "high", System: domain.SystemSNOMED, Display: "High", Confidence: 0.95, MatchType: domain.MatchExact, Source: domain.SourceVocabulary},
			{Code: "mid", System: domain.SystemSNOMED, Display: "Mid", Confidence: 0.7, MatchType: domain.MatchNormalized, Source: domain.SourceVocabulary},
		},
	}}
	c := newTestCoordinator(fuzzy, stubRules{}, stubContext{}, &stubCache{})

	req := domain.TermRequest{Text: "term", Systems: []domain.System{domain.SystemSNOMED}, MaxResultsPerSystem: 2}

	result, err := c.MapTerm(context.Background(), req)
	require.NoError(t, err)
	cands := result.PerSystem[domain.SystemSNOMED]
	require.Len(t, cands, 2)
	assert.Equal(t, "high", cands[0].Code)
	assert.Equal(t, "mid", cands[1].Code)
}

func TestMapTerm_RejectsEmptyText(t *testing.T) {
	c := newTestCoordinator(stubFuzzy{}, stubRules{}, stubContext{}, &stubCache{})
	_, err := c.MapTerm(context.Background(), domain.TermRequest{Text: "   "})
	require.Error(t, err)
}

func TestMapTermsBatch_AggregatesSuccessAndFailureCounts(t *testing.T) {
	fuzzy := stubFuzzy{results: map[domain.System][]domain.MappingCandidate{
		domain.SystemSNOMED: {{Code: "1", System: domain.SystemSNOMED, Display: "A", Confidence: 0.8, MatchType: domain.MatchExact, Source: domain.SourceVocabulary}},
	}}
	c := newTestCoordinator(fuzzy, stubRules{}, stubContext{}, &stubCache{})

	reqs := []domain.TermRequest{
		{Text: "a", Systems: []domain.System{domain.SystemSNOMED}},
		{Text: "", Systems: []domain.System{domain.SystemSNOMED}},
	}

	batch, err := c.MapTermsBatch(context.Background(), reqs)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.SuccessCount)
	assert.Equal(t, 1, batch.FailureCount)
	require.Len(t, batch.Results, 2)
}

func TestGetSystemsInfo_ReportsVocabularyCounts(t *testing.T) {
	c := newTestCoordinator(stubFuzzy{}, stubRules{}, stubContext{}, &stubCache{})
	infos, err := c.GetSystemsInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
}
