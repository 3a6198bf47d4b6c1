package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

func exactRule(id, sourceTerm string, priority domain.Priority) *domain.CustomRule {
	return &domain.CustomRule{
		RuleID:     id,
		RuleType:   domain.RuleExactMatch,
		Priority:   priority,
		SourceTerm: sourceTerm,
		Target:     domain.RuleTarget{Code: "123", System: domain.SystemSNOMED, Display: "Test concept"},
		IsActive:   true,
		UpdatedAt:  time.Now(),
	}
}

func TestEngine_evaluate_ExactMatch(t *testing.T) {
	e := &Engine{log: nil}
	rule := exactRule("r1", "chest pain", domain.PriorityHigh)
	normalized := &domain.NormalizedTerm{Canonical: "chest pain"}

	score, ok := e.evaluate(rule, normalized, nil)
	assert.True(t, ok)
	assert.Equal(t, 1.0, score)

	miss, ok := e.evaluate(rule, &domain.NormalizedTerm{Canonical: "abdominal pain"}, nil)
	assert.False(t, ok)
	assert.Zero(t, miss)
}

func TestEngine_evaluate_PatternMatch(t *testing.T) {
	e := &Engine{log: nil}
	rule := &domain.CustomRule{
		RuleID:     "r2",
		RuleType:   domain.RulePatternMatch,
		Priority:   domain.PriorityMedium,
		SourceTerm: "ignored",
		Target:     domain.RuleTarget{Code: "999", System: domain.SystemRxNorm, Display: "Pattern hit"},
		Conditions: map[string]any{"pattern": `\d+mg`},
		IsActive:   true,
	}

	score, ok := e.evaluate(rule, &domain.NormalizedTerm{Canonical: "metformin 500mg"}, nil)
	assert.True(t, ok)
	assert.Equal(t, 0.8, score)
}

func TestEngine_evaluate_DomainSpecific(t *testing.T) {
	e := &Engine{log: nil}
	rule := &domain.CustomRule{
		RuleID:     "r3",
		RuleType:   domain.RuleDomainSpecific,
		Priority:   domain.PriorityMedium,
		SourceTerm: "chest pain",
		Target:     domain.RuleTarget{Code: "111", System: domain.SystemSNOMED, Display: "Cardiac chest pain"},
		Conditions: map[string]any{"domain": "CARDIOLOGY"},
		IsActive:   true,
	}

	ctxOut := &domain.ContextOut{DetectedDomain: domain.DomainCardiology}
	score, ok := e.evaluate(rule, &domain.NormalizedTerm{Canonical: "chest pain"}, ctxOut)
	assert.True(t, ok)
	assert.Equal(t, 0.85, score)

	_, ok = e.evaluate(rule, &domain.NormalizedTerm{Canonical: "chest pain"}, &domain.ContextOut{DetectedDomain: domain.DomainGeneral})
	assert.False(t, ok)
}

func TestApply_ManualOverrideReplacesCandidates(t *testing.T) {
	base := map[domain.System][]domain.MappingCandidate{
		domain.SystemSNOMED: {
			{Code: "38341003", System: domain.SystemSNOMED, Display: "Hypertensive disorder", Confidence: 0.9, MatchType: domain.MatchExact, Source: domain.SourceVocabulary},
		},
	}

	match := domain.RuleMatch{
		Rule: &domain.CustomRule{
			RuleID:   "override-1",
			RuleType: domain.RuleManualOverride,
			Priority: domain.PriorityCritical,
			Target:   domain.RuleTarget{Code: "999999", System: domain.SystemSNOMED, Display: "Custom Chest Pain"},
		},
		MatchScore: 1.0,
	}

	result := applyMatches(base, []domain.RuleMatch{match})
	assert.Len(t, result[domain.SystemSNOMED], 1)
	assert.Equal(t, "999999", result[domain.SystemSNOMED][0].Code)
	assert.Equal(t, domain.SourceCustomRule, result[domain.SystemSNOMED][0].Source)
}

// applyMatches mirrors Engine.Apply's merge loop without requiring a live
// repository, to unit test the override/merge semantics in isolation.
func applyMatches(base map[domain.System][]domain.MappingCandidate, matches []domain.RuleMatch) map[domain.System][]domain.MappingCandidate {
	result := make(map[domain.System][]domain.MappingCandidate, len(base))
	for sys, cands := range base {
		cp := make([]domain.MappingCandidate, len(cands))
		copy(cp, cands)
		result[sys] = cp
	}
	overridden := map[domain.System]bool{}
	for _, m := range matches {
		rule := m.Rule
		sys := rule.Target.System
		if rule.RuleType == domain.RuleManualOverride {
			if overridden[sys] {
				continue
			}
			result[sys] = []domain.MappingCandidate{{
				Code: rule.Target.Code, System: sys, Display: rule.Target.Display,
				Confidence: m.MatchScore, MatchType: domain.MatchCustomRule, Source: domain.SourceCustomRule,
				RuleID: rule.RuleID,
			}}
			overridden[sys] = true
			continue
		}
		if overridden[sys] {
			continue
		}
		result[sys] = mergeCandidate(result[sys], domain.MappingCandidate{
			Code: rule.Target.Code, System: sys, Display: rule.Target.Display,
			Confidence: m.MatchScore, MatchType: domain.MatchCustomRule, Source: domain.SourceCustomRule,
			RuleID: rule.RuleID,
		})
	}
	return result
}

func TestMergeCandidate_KeepsHigherConfidence(t *testing.T) {
	existing := []domain.MappingCandidate{
		{Code: "A1", System: domain.SystemLOINC, Confidence: 0.6, Source: domain.SourceVocabulary, Explanation: "vocabulary hit"},
	}
	merged := mergeCandidate(existing, domain.MappingCandidate{
		Code: "A1", System: domain.SystemLOINC, Confidence: 0.9, Source: domain.SourceCustomRule, Explanation: "rule hit",
	})

	assert.Len(t, merged, 1)
	assert.Equal(t, 0.9, merged[0].Confidence)
	assert.Contains(t, merged[0].Explanation, "also matched via")
}
