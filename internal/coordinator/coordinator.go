// Package coordinator implements the Mapping Coordinator (spec §4.9): the
// top-level entry point that normalizes a term, probes the cache, gathers
// per-system Fuzzy Matcher candidates in parallel, applies the Custom Rules
// Engine once to the gathered candidates, applies clinical-context
// confidence adjustments, and assembles the final per-system ranked result.
// Rule matching runs after fuzzy matching, not concurrently with it.
package coordinator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// defaultMaxResultsPerSystem caps per-system candidates when a request
// leaves max_results_per_system unset.
const defaultMaxResultsPerSystem = 10

// Coordinator implements domain.MappingCoordinator over the engine's
// component packages.
type Coordinator struct {
	normalizer domain.Normalizer
	vocab      domain.VocabularyStore
	fuzzy      domain.FuzzyMatcher
	context    domain.ContextAnalyzer
	rules      domain.RulesEngine
	cache      domain.CacheLayer
	executor   domain.ParallelExecutor
	logger     *logrus.Logger

	defaultThreshold float64
}

// New wires the Mapping Coordinator over its component dependencies.
func New(
	normalizer domain.Normalizer,
	vocab domain.VocabularyStore,
	fuzzyMatcher domain.FuzzyMatcher,
	contextAnalyzer domain.ContextAnalyzer,
	rulesEngine domain.RulesEngine,
	cacheLayer domain.CacheLayer,
	exec domain.ParallelExecutor,
	fuzzyCfg domain.FuzzyConfig,
	logger *logrus.Logger,
) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	threshold := fuzzyCfg.DefaultThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Coordinator{
		normalizer:       normalizer,
		vocab:            vocab,
		fuzzy:            fuzzyMatcher,
		context:          contextAnalyzer,
		rules:            rulesEngine,
		cache:            cacheLayer,
		executor:         exec,
		logger:           logger,
		defaultThreshold: threshold,
	}
}

// MapTerm implements domain.MappingCoordinator's single-term pipeline (spec
// §4.9): normalize, probe cache, gather candidates per system in parallel,
// apply rules, adjust for context, re-sort, truncate, cache, return.
func (c *Coordinator) MapTerm(ctx context.Context, req domain.TermRequest) (*domain.MappingResult, error) {
	start := time.Now()

	if strings.TrimSpace(req.Text) == "" {
		return nil, domain.NewInvalidInputError("text is required")
	}

	systems := req.Systems
	if len(systems) == 0 {
		systems = domain.AllSystems()
	}
	if err := domain.ValidateSystems(systems); err != nil {
		return nil, domain.NewMappingError(domain.ErrKindUnknownSystem, err.Error(), nil)
	}

	threshold := c.defaultThreshold
	if req.Threshold > 0 {
		threshold = domain.ClampThreshold(req.Threshold)
	}

	maxResults := req.MaxResultsPerSystem
	if maxResults <= 0 {
		maxResults = defaultMaxResultsPerSystem
	}

	algorithms := req.Algorithms
	if len(algorithms) == 0 {
		algorithms = domain.AllFuzzyAlgorithms()
	}

	normalized, err := c.normalizer.Normalize(req.Text)
	if err != nil {
		return nil, domain.NewInternalError("normalize term", err)
	}

	// Context analysis runs before the cache probe, not after it, so the
	// cache key's fingerprint is a real post-analysis value rather than a
	// placeholder the cache could never have stored under (spec §3 invariant
	// 5: identical keys must produce byte-identical results).
	var ctxOut *domain.ContextOut
	var targetSpan domain.Span
	if req.Context != nil {
		targetSpan = locateSpan(req.Context.SurroundingText, req.Text)
		out, analyzeErr := c.context.Analyze(ctx, *req.Context, targetSpan)
		if analyzeErr != nil {
			c.logger.WithError(analyzeErr).Warn("context analysis failed, proceeding without context")
		} else {
			ctxOut = out
		}
	}

	key := domain.CacheKey{
		NormalizedTerm:     normalized.Canonical,
		Systems:            sortedSystems(systems),
		Threshold:          threshold,
		Algorithms:         sortedAlgorithms(algorithms),
		ContextFingerprint: ctxOut.Fingerprint(),
		RulesVersion:       c.rules.Version(),
	}

	if cached, hit, cacheErr := c.cache.Get(ctx, key); cacheErr != nil {
		c.logger.WithError(cacheErr).Warn("cache get failed, proceeding without cache")
	} else if hit {
		result := *cached
		result.ProcessingMetadata.CacheStatus = "hit"
		result.ProcessingTimeMS = time.Since(start).Milliseconds()
		return &result, nil
	}

	base, degradedSystems := c.gather(ctx, normalized, systems, threshold, algorithms, maxResults)

	baseCandidateCount := 0
	for _, cands := range base {
		baseCandidateCount += len(cands)
	}

	merged, appliedRules, err := c.rules.Apply(ctx, normalized, base, ctxOut)
	if err != nil {
		c.logger.WithError(err).Warn("rules engine apply failed, proceeding with base candidates only")
		merged, appliedRules = base, nil
	}

	finalCandidateCount := 0
	for sys, cands := range merged {
		adjusted := make([]domain.MappingCandidate, len(cands))
		for i, cand := range cands {
			adjusted[i] = adjustConfidence(cand, ctxOut, targetSpan, sys)
		}
		sortCandidates(adjusted)
		if len(adjusted) > maxResults {
			adjusted = adjusted[:maxResults]
		}
		merged[sys] = adjusted
		finalCandidateCount += len(adjusted)
	}

	result := &domain.MappingResult{
		Term:             req.Text,
		PerSystem:        merged,
		TotalMatches:     finalCandidateCount,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Context:          ctxOut,
		AppliedRules:     appliedRules,
		ProcessingMetadata: domain.ProcessingMetadata{
			CacheStatus:         "miss",
			DegradedSystems:     degradedSystems,
			RulesAppliedCount:   len(appliedRules),
			BaseCandidateCount:  baseCandidateCount,
			FinalCandidateCount: finalCandidateCount,
		},
	}

	if cacheErr := c.cache.Set(ctx, key, result); cacheErr != nil {
		c.logger.WithError(cacheErr).Warn("cache set failed")
	}

	return result, nil
}

// gather runs the Fuzzy Matcher against each system concurrently. A
// per-system failure degrades that system to zero candidates rather than
// aborting the term (spec §4.9, §7).
func (c *Coordinator) gather(
	ctx context.Context,
	normalized *domain.NormalizedTerm,
	systems []domain.System,
	threshold float64,
	algorithms []domain.FuzzyAlgorithm,
	maxResults int,
) (map[domain.System][]domain.MappingCandidate, []domain.System) {
	base := make(map[domain.System][]domain.MappingCandidate, len(systems))
	var degraded []domain.System
	var mu sync.Mutex

	var g errgroup.Group
	for _, sys := range systems {
		sys := sys
		g.Go(func() error {
			candidates, err := c.fuzzy.Match(ctx, normalized, sys, threshold, algorithms, maxResults)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.WithError(err).WithField("system", sys).Warn("vocabulary match failed, degrading system")
				degraded = append(degraded, sys)
				return nil
			}
			base[sys] = candidates
			return nil
		})
	}
	_ = g.Wait()

	return base, degraded
}

// MapTermsBatch implements domain.MappingCoordinator's batch entry point,
// fanning requests across the Parallel Executor.
func (c *Coordinator) MapTermsBatch(ctx context.Context, reqs []domain.TermRequest) (*domain.BatchResult, error) {
	start := time.Now()

	results := c.executor.Run(ctx, reqs, c.MapTerm)

	batch := &domain.BatchResult{Results: results}
	for _, r := range results {
		if r.Result != nil {
			batch.SuccessCount++
		} else {
			batch.FailureCount++
		}
	}
	batch.TotalTimeMS = time.Since(start).Milliseconds()

	return batch, nil
}

// AddRule validates and persists a new custom rule.
func (c *Coordinator) AddRule(ctx context.Context, rule *domain.CustomRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	return c.rules.Add(ctx, rule)
}

// UpdateRule validates and persists changes to an existing custom rule.
func (c *Coordinator) UpdateRule(ctx context.Context, rule *domain.CustomRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	return c.rules.Update(ctx, rule)
}

// DeleteRule deactivates a custom rule (rules are soft-deleted, spec §4.5).
func (c *Coordinator) DeleteRule(ctx context.Context, ruleID string) error {
	return c.rules.Deactivate(ctx, ruleID)
}

// ExportRules returns every persisted custom rule.
func (c *Coordinator) ExportRules(ctx context.Context) (*domain.RuleExport, error) {
	return c.rules.Export(ctx)
}

// ImportRules bulk-loads rules from an export, returning the count imported.
func (c *Coordinator) ImportRules(ctx context.Context, export *domain.RuleExport) (int, error) {
	return c.rules.Import(ctx, export)
}

// GetSystemsInfo reports each configured vocabulary system's concept count.
func (c *Coordinator) GetSystemsInfo(ctx context.Context) ([]domain.SystemInfo, error) {
	systems := c.vocab.SupportedSystems()
	infos := make([]domain.SystemInfo, 0, len(systems))
	for _, sys := range systems {
		infos = append(infos, domain.SystemInfo{
			Name:         sys.String(),
			DisplayName:  sys.String(),
			ConceptCount: c.vocab.ConceptCount(sys),
			Supported:    true,
		})
	}
	return infos, nil
}

// adjustConfidence applies the spec §4.4 confidence multipliers for
// negation, uncertainty, family history, and domain alignment. Severity and
// temporality modifiers are metadata-only and never change a score.
func adjustConfidence(cand domain.MappingCandidate, ctxOut *domain.ContextOut, targetSpan domain.Span, sys domain.System) domain.MappingCandidate {
	if ctxOut == nil {
		return cand
	}

	if ctxOut.IsNegated {
		cand.Confidence *= 0.3
		cand.IsNegated = true
	}

	var uncertain, familyHistory bool
	for _, m := range ctxOut.Modifiers {
		if m.Type == domain.ModifierNegation || !targetSpan.Within(m.ScopeSpan) {
			continue
		}
		switch m.Type {
		case domain.ModifierUncertainty:
			uncertain = true
		case domain.ModifierFamilyHistory:
			familyHistory = true
		}
	}
	if uncertain {
		cand.Confidence *= 0.85
	}
	if familyHistory {
		cand.Confidence *= 0.7
	}

	if ctxOut.DetectedDomain.AlignsWithSystem(sys) {
		cand.Confidence *= 1.1
		if cand.Confidence > 1.0 {
			cand.Confidence = 1.0
		}
	}

	return cand
}

// sortCandidates orders candidates per spec §3 invariant 1: confidence
// descending, then source rank descending, then shorter display text, then
// lexicographic code.
func sortCandidates(cands []domain.MappingCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if ra, rb := a.MatchType.SourceRank(), b.MatchType.SourceRank(); ra != rb {
			return ra > rb
		}
		if len(a.Display) != len(b.Display) {
			return len(a.Display) < len(b.Display)
		}
		return a.Code < b.Code
	})
}

// locateSpan finds term's character span within surroundingText. When term
// cannot be found verbatim (e.g. it was itself normalized before the caller
// built surrounding_text), the whole text is treated as the target's scope
// so no modifier is spuriously excluded by an unknown position.
func locateSpan(surroundingText, term string) domain.Span {
	if surroundingText == "" {
		return domain.Span{}
	}
	idx := strings.Index(strings.ToLower(surroundingText), strings.ToLower(term))
	if idx < 0 {
		return domain.Span{Start: 0, End: len(surroundingText)}
	}
	return domain.Span{Start: idx, End: idx + len(term)}
}

func sortedSystems(systems []domain.System) []domain.System {
	out := make([]domain.System, len(systems))
	copy(out, systems)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedAlgorithms(algorithms []domain.FuzzyAlgorithm) []domain.FuzzyAlgorithm {
	out := make([]domain.FuzzyAlgorithm, len(algorithms))
	copy(out, algorithms)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
