// Package rules implements the Custom Rules Engine (spec §4.5): a
// persistent, ACID-backed store of user-defined rules that augment,
// suppress, or override vocabulary-derived mapping candidates.
package rules

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// Engine evaluates and applies custom rules against (term, context) pairs,
// and serves as the domain.RulesEngine implementation.
type Engine struct {
	repo    *Repository
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Logger

	mu      sync.RWMutex
	version uint64

	patternCache sync.Map // rule_id -> *regexp.Regexp
}

// NewEngine constructs a rules Engine wrapping repo with a circuit breaker
// around its Postgres calls, matching the teacher's resilience pattern for
// external stores.
func NewEngine(repo *Repository, logger *logrus.Logger) *Engine {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rules-store",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("rules store circuit breaker state change")
		},
	})

	e := &Engine{repo: repo, breaker: breaker, log: logger}
	if v, err := repo.Version(context.Background()); err == nil {
		e.mu.Lock()
		e.version = v
		e.mu.Unlock()
	}
	return e
}

// Version returns the cached, monotonically increasing rules version used
// in cache keys (spec §4.6).
func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

func (e *Engine) bumpVersionFromStore(ctx context.Context) {
	if v, err := e.repo.Version(ctx); err == nil {
		e.mu.Lock()
		e.version = v
		e.mu.Unlock()
	}
}

func (e *Engine) withBreaker(fn func() error) error {
	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Add validates and persists a new rule.
func (e *Engine) Add(ctx context.Context, rule *domain.CustomRule) error {
	if err := rule.Validate(); err != nil {
		return domain.NewRuleValidationError(err.Error())
	}
	if rule.RuleType == domain.RulePatternMatch {
		pattern, _ := rule.Conditions["pattern"].(string)
		if _, err := regexp.Compile(pattern); err != nil {
			return domain.NewRuleValidationError(fmt.Sprintf("invalid pattern regex: %v", err))
		}
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	if !rule.IsActive {
		rule.IsActive = true
	}

	err := e.withBreaker(func() error { return e.repo.Create(ctx, rule) })
	if err != nil {
		return domain.NewRuleStoreError(err)
	}
	e.bumpVersionFromStore(ctx)
	e.patternCache.Delete(rule.RuleID)
	return nil
}

// Update validates and persists changes to an existing rule.
func (e *Engine) Update(ctx context.Context, rule *domain.CustomRule) error {
	if err := rule.Validate(); err != nil {
		return domain.NewRuleValidationError(err.Error())
	}
	rule.UpdatedAt = time.Now().UTC()

	err := e.withBreaker(func() error { return e.repo.Update(ctx, rule) })
	if err != nil {
		return domain.NewRuleStoreError(err)
	}
	e.bumpVersionFromStore(ctx)
	e.patternCache.Delete(rule.RuleID)
	return nil
}

// Deactivate marks a rule inactive.
func (e *Engine) Deactivate(ctx context.Context, ruleID string) error {
	err := e.withBreaker(func() error { return e.repo.Deactivate(ctx, ruleID) })
	if err != nil {
		return domain.NewRuleStoreError(err)
	}
	e.bumpVersionFromStore(ctx)
	e.patternCache.Delete(ruleID)
	return nil
}

// Get fetches a single rule.
func (e *Engine) Get(ctx context.Context, ruleID string) (*domain.CustomRule, error) {
	var rule *domain.CustomRule
	err := e.withBreaker(func() error {
		var err error
		rule, err = e.repo.Get(ctx, ruleID)
		return err
	})
	if err != nil {
		return nil, domain.NewRuleStoreError(err)
	}
	return rule, nil
}

// List returns all rules, optionally restricted to active ones.
func (e *Engine) List(ctx context.Context, activeOnly bool) ([]*domain.CustomRule, error) {
	var rules []*domain.CustomRule
	err := e.withBreaker(func() error {
		var err error
		rules, err = e.repo.List(ctx, activeOnly)
		return err
	})
	if err != nil {
		return nil, domain.NewRuleStoreError(err)
	}
	return rules, nil
}

// Export returns every rule in the spec §6 JSON export schema.
func (e *Engine) Export(ctx context.Context) (*domain.RuleExport, error) {
	rules, err := e.List(ctx, false)
	if err != nil {
		return nil, err
	}
	export := &domain.RuleExport{Rules: make([]domain.CustomRule, 0, len(rules))}
	for _, r := range rules {
		export.Rules = append(export.Rules, *r)
	}
	return export, nil
}

// Import validates and upserts every rule in export, returning the number
// imported. Existing rules with a matching rule_id are updated in place.
func (e *Engine) Import(ctx context.Context, export *domain.RuleExport) (int, error) {
	count := 0
	for i := range export.Rules {
		rule := export.Rules[i]
		if err := rule.Validate(); err != nil {
			return count, domain.NewRuleValidationError(fmt.Sprintf("rule %q: %v", rule.RuleID, err))
		}
		_, err := e.repo.Get(ctx, rule.RuleID)
		switch {
		case err == nil:
			if updateErr := e.Update(ctx, &rule); updateErr != nil {
				return count, updateErr
			}
		case err == ErrNotFound:
			if addErr := e.Add(ctx, &rule); addErr != nil {
				return count, addErr
			}
		default:
			return count, domain.NewRuleStoreError(err)
		}
		count++
	}
	return count, nil
}

// FindMatches evaluates all active rules against a normalized term and
// context, per the matching semantics of spec §4.5.
func (e *Engine) FindMatches(ctx context.Context, normalized *domain.NormalizedTerm, context *domain.ContextOut) ([]domain.RuleMatch, error) {
	activeRules, err := e.List(ctx, true)
	if err != nil {
		return nil, err
	}

	var matches []domain.RuleMatch
	for _, rule := range activeRules {
		if score, ok := e.evaluate(rule, normalized, context); ok {
			matches = append(matches, domain.RuleMatch{Rule: rule, MatchScore: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		pi, pj := matches[i].Rule.Priority.Rank(), matches[j].Rule.Priority.Rank()
		if pi != pj {
			return pi > pj
		}
		return matches[i].Rule.UpdatedAt.After(matches[j].Rule.UpdatedAt)
	})

	return matches, nil
}

func (e *Engine) evaluate(rule *domain.CustomRule, normalized *domain.NormalizedTerm, ctxOut *domain.ContextOut) (float64, bool) {
	switch rule.RuleType {
	case domain.RuleExactMatch, domain.RuleManualOverride:
		if strings.EqualFold(normalized.Canonical, strings.ToLower(rule.SourceTerm)) {
			return rule.RuleType.BaseMatchScore(), true
		}
		for _, v := range normalized.Variants {
			if strings.EqualFold(v, rule.SourceTerm) {
				return rule.RuleType.BaseMatchScore(), true
			}
		}
		return 0, false

	case domain.RulePatternMatch:
		re, err := e.compiledPattern(rule)
		if err != nil {
			e.log.WithError(err).WithField("rule_id", rule.RuleID).Warn("skipping pattern rule with invalid regex")
			return 0, false
		}
		if re.MatchString(normalized.Canonical) {
			return rule.RuleType.BaseMatchScore(), true
		}
		return 0, false

	case domain.RuleContextDependent:
		if ctxOut == nil {
			return 0, false
		}
		required, _ := rule.Conditions["required_context"].(map[string]any)
		for key, want := range required {
			if !contextPredicateHolds(key, want, ctxOut) {
				return 0, false
			}
		}
		return rule.RuleType.BaseMatchScore(), true

	case domain.RuleDomainSpecific:
		if ctxOut == nil {
			return 0, false
		}
		wantDomain, _ := rule.Conditions["domain"].(string)
		if strings.EqualFold(string(ctxOut.DetectedDomain), wantDomain) {
			return rule.RuleType.BaseMatchScore(), true
		}
		return 0, false

	default:
		return 0, false
	}
}

func contextPredicateHolds(key string, want any, ctxOut *domain.ContextOut) bool {
	switch key {
	case "domain":
		return strings.EqualFold(string(ctxOut.DetectedDomain), fmt.Sprintf("%v", want))
	case "is_negated":
		b, _ := want.(bool)
		return ctxOut.IsNegated == b
	default:
		return false
	}
}

func (e *Engine) compiledPattern(rule *domain.CustomRule) (*regexp.Regexp, error) {
	if cached, ok := e.patternCache.Load(rule.RuleID); ok {
		return cached.(*regexp.Regexp), nil
	}
	pattern, _ := rule.Conditions["pattern"].(string)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.patternCache.Store(rule.RuleID, re)
	return re, nil
}

// Apply merges rule matches into base per-system vocabulary candidates,
// implementing the apply policy of spec §4.5: non-override matches are
// prepended in priority order with source="custom_rule"; duplicates on
// (system, code) collapse keeping the higher confidence with combined
// provenance; at most one CRITICAL MANUAL_OVERRIDE fires per system, and
// when it does it replaces every other candidate for that system.
func (e *Engine) Apply(ctx context.Context, normalized *domain.NormalizedTerm, base map[domain.System][]domain.MappingCandidate, ctxOut *domain.ContextOut) (map[domain.System][]domain.MappingCandidate, []domain.RuleApplication, error) {
	matches, err := e.FindMatches(ctx, normalized, ctxOut)
	if err != nil {
		return base, nil, err
	}

	result := make(map[domain.System][]domain.MappingCandidate, len(base))
	for sys, cands := range base {
		cp := make([]domain.MappingCandidate, len(cands))
		copy(cp, cands)
		result[sys] = cp
	}

	var applied []domain.RuleApplication
	overridden := map[domain.System]bool{}
	prepended := map[domain.System]int{}

	for _, m := range matches {
		rule := m.Rule
		sys := rule.Target.System

		if rule.RuleType == domain.RuleManualOverride {
			if overridden[sys] {
				continue // at most one CRITICAL MANUAL_OVERRIDE fires per system
			}
			result[sys] = []domain.MappingCandidate{{
				Code:        rule.Target.Code,
				System:      sys,
				Display:     rule.Target.Display,
				Confidence:  m.MatchScore,
				MatchType:   domain.MatchCustomRule,
				Source:      domain.SourceCustomRule,
				Explanation: fmt.Sprintf("manual override rule %s", rule.RuleID),
				RuleID:      rule.RuleID,
			}}
			overridden[sys] = true
			applied = append(applied, domain.RuleApplication{
				RuleID: rule.RuleID, RuleType: rule.RuleType, Priority: rule.Priority,
				System: sys, MatchScore: m.MatchScore, Overrode: true,
			})
			continue
		}

		if overridden[sys] {
			continue
		}

		candidate := domain.MappingCandidate{
			Code:        rule.Target.Code,
			System:      sys,
			Display:     rule.Target.Display,
			Confidence:  m.MatchScore,
			MatchType:   domain.MatchCustomRule,
			Source:      domain.SourceCustomRule,
			Explanation: fmt.Sprintf("custom rule %s (%s)", rule.RuleID, rule.RuleType),
			RuleID:      rule.RuleID,
		}
		before := len(result[sys])
		result[sys] = mergeCandidate(result[sys], candidate)
		if len(result[sys]) > before {
			// mergeCandidate put the new candidate first; move it behind the
			// higher-priority rule candidates already prepended for sys.
			n := prepended[sys]
			copy(result[sys][:n], result[sys][1:n+1])
			result[sys][n] = candidate
			prepended[sys]++
		}
		applied = append(applied, domain.RuleApplication{
			RuleID: rule.RuleID, RuleType: rule.RuleType, Priority: rule.Priority,
			System: sys, MatchScore: m.MatchScore, Overrode: false,
		})
	}

	return result, applied, nil
}

// mergeCandidate prepends candidate to existing, collapsing a duplicate
// (system, code) entry into one that keeps the higher confidence and notes
// both provenances (spec §4.5, §9 Open Question resolution).
func mergeCandidate(existing []domain.MappingCandidate, candidate domain.MappingCandidate) []domain.MappingCandidate {
	for i, c := range existing {
		if c.System == candidate.System && c.Code == candidate.Code {
			if candidate.Confidence >= c.Confidence {
				candidate.Explanation = combinedProvenance(candidate, c)
				existing[i] = candidate
			} else {
				existing[i].Explanation = combinedProvenance(c, candidate)
			}
			return existing
		}
	}
	return append([]domain.MappingCandidate{candidate}, existing...)
}

func combinedProvenance(kept, other domain.MappingCandidate) string {
	return fmt.Sprintf("%s; also matched via %s (%s)", kept.Explanation, other.Source, other.MatchType)
}
