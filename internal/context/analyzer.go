// Package context implements the Context Analyzer (spec §4.4): domain
// detection and modifier extraction (negation, uncertainty, severity,
// temporality, family history, experiencer, conditionality) over a target
// term's surrounding text.
package context

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// Config configures the domain lexicon, modifier cue sets, and detection
// thresholds.
type Config struct {
	// DomainLexicon maps each domain to a set of keyword weights.
	DomainLexicon map[domain.Domain]map[string]float64
	// MinDomainEvidence is the minimum winning score required before
	// GENERAL is used as a fallback.
	MinDomainEvidence float64
	// HintContradictionMargin is how much a computed domain's score must
	// exceed the hinted domain's score before the hint is overridden.
	HintContradictionMargin float64
	// CueSets maps each modifier type to its cue rules.
	CueSets map[domain.ModifierType][]cueRule
}

type cueRule struct {
	pattern    *regexp.Regexp
	maxWords   int
	confidence float64
}

// coordinatingConjunctions truncate a modifier's forward scope (spec §4.4).
var coordinatingConjunctions = map[string]bool{"but": true, "however": true, "although": true, "except": true}

// sentenceEndRe finds the first sentence-terminating punctuation.
var sentenceEndRe = regexp.MustCompile(`[.!?]`)

func cue(pattern string, maxWords int, confidence float64) cueRule {
	return cueRule{pattern: regexp.MustCompile(`(?i)\b(` + pattern + `)\b`), maxWords: maxWords, confidence: confidence}
}

// DefaultConfig returns a built-in lexicon and cue set covering the common
// clinical domains and modifier cues.
func DefaultConfig() Config {
	return Config{
		MinDomainEvidence:       1.0,
		HintContradictionMargin: 1.5,
		DomainLexicon: map[domain.Domain]map[string]float64{
			domain.DomainCardiology: {
				"heart": 1, "cardiac": 1.5, "chest pain": 1.5, "myocardial": 2, "coronary": 2, "ekg": 1, "ecg": 1, "arrhythmia": 1.5,
			},
			domain.DomainPulmonology: {
				"lung": 1, "respiratory": 1.5, "dyspnea": 1.5, "copd": 2, "asthma": 2, "pulmonary": 1.5, "wheeze": 1,
			},
			domain.DomainEndocrinology: {
				"diabetes": 2, "thyroid": 1.5, "insulin": 1.5, "glucose": 1, "endocrine": 1.5, "hba1c": 1.5,
			},
			domain.DomainNeurology: {
				"brain": 1.5, "seizure": 2, "stroke": 2, "neuro": 1, "headache": 1, "migraine": 1.5,
			},
			domain.DomainPsychiatry: {
				"depression": 2, "anxiety": 1.5, "psychiatric": 1.5, "mood": 1, "panic": 1.5,
			},
			domain.DomainLaboratory: {
				"lab": 1, "blood test": 1.5, "specimen": 1.5, "assay": 1.5, "panel": 1, "level": 0.5,
			},
		},
		CueSets: map[domain.ModifierType][]cueRule{
			domain.ModifierNegation: {
				cue(`no|not|without|denies|denied|negative for|ruled out|no evidence of|absence of`, 6, 0.9),
			},
			domain.ModifierUncertainty: {
				cue(`possible|probable|likely|suspected|may be|question of|rule out|cannot exclude`, 8, 0.7),
			},
			domain.ModifierSeverity: {
				cue(`mild|moderate|severe|critical`, 4, 0.8),
			},
			domain.ModifierTemporality: {
				cue(`acute|chronic|resolved|recurrent|history of|status post`, 6, 0.8),
			},
			domain.ModifierFamilyHistory: {
				cue(`family history of|mother has|father has|sibling with|maternal|paternal`, 10, 0.85),
			},
			domain.ModifierExperiencer: {
				cue(`patient's mother|patient's father|patient's sister|patient's brother|his mother|her father`, 6, 0.8),
			},
			domain.ModifierConditionality: {
				cue(`if present|should develop|in case of|if symptoms`, 6, 0.7),
			},
		},
	}
}

// Analyzer implements domain.ContextAnalyzer.
type Analyzer struct {
	cfg Config
}

// New constructs an Analyzer from cfg.
func New(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze implements domain.ContextAnalyzer (spec §4.4).
func (a *Analyzer) Analyze(ctx context.Context, input domain.ContextInput, targetSpan domain.Span) (*domain.ContextOut, error) {
	text := input.SurroundingText

	out := &domain.ContextOut{
		DetectedDomain: a.detectDomain(text, input.DomainHint),
		Modifiers:      a.extractModifiers(text, targetSpan),
	}

	for _, m := range out.Modifiers {
		if m.Type != domain.ModifierNegation {
			continue
		}
		if !spanWithin(targetSpan, m.ScopeSpan) {
			continue
		}
		out.IsNegated = true
		if m.Confidence > out.NegationConfidence {
			out.NegationConfidence = m.Confidence
			out.NegationCue = m.Text
		}
	}

	return out, nil
}

// detectDomain scores each domain's lexicon against text and returns the
// highest-scoring domain above MinDomainEvidence, honoring hint unless the
// computed winner contradicts it with a high-confidence margin.
func (a *Analyzer) detectDomain(text string, hint domain.Domain) domain.Domain {
	if text == "" {
		if hint.IsValid() && hint != "" {
			return hint
		}
		return domain.DomainGeneral
	}

	lower := strings.ToLower(text)
	scores := make(map[domain.Domain]float64, len(a.cfg.DomainLexicon))
	for d, keywords := range a.cfg.DomainLexicon {
		var score float64
		for kw, weight := range keywords {
			score += float64(strings.Count(lower, kw)) * weight
		}
		scores[d] = score
	}

	best, bestScore := domain.DomainGeneral, 0.0
	for d, score := range scores {
		if score > bestScore {
			best, bestScore = d, score
		}
	}

	if bestScore < a.cfg.MinDomainEvidence {
		best = domain.DomainGeneral
	}

	if hint.IsValid() && hint != "" && hint != domain.DomainGeneral {
		if best == domain.DomainGeneral || scores[best]-scores[hint] < a.cfg.HintContradictionMargin {
			return hint
		}
	}

	return best
}

// extractModifiers locates cue tokens for every configured modifier type and
// computes each one's forward scope.
func (a *Analyzer) extractModifiers(text string, targetSpan domain.Span) []domain.Modifier {
	if text == "" {
		return nil
	}

	var modifiers []domain.Modifier
	for modType, rules := range a.cfg.CueSets {
		for _, rule := range rules {
			matches := rule.pattern.FindAllStringIndex(text, -1)
			for _, match := range matches {
				start, end := match[0], match[1]
				scopeEnd := forwardScope(text, end, rule.maxWords)
				modifiers = append(modifiers, domain.Modifier{
					Type:       modType,
					Text:       text[start:end],
					Span:       domain.Span{Start: start, End: end},
					Confidence: rule.confidence,
					ScopeSpan:  domain.Span{Start: start, End: scopeEnd},
				})
			}
		}
	}

	sort.Slice(modifiers, func(i, j int) bool { return modifiers[i].Span.Start < modifiers[j].Span.Start })
	return modifiers
}

// forwardScope walks text from start, counting words, and stops at the
// first of: maxWords consumed, a sentence-terminating punctuation, or a
// coordinating conjunction (spec §4.4).
func forwardScope(text string, start, maxWords int) int {
	remainder := text[start:]
	if idx := sentenceEndRe.FindStringIndex(remainder); idx != nil {
		remainder = remainder[:idx[0]]
	}

	words := strings.Fields(remainder)
	end := len(remainder)
	consumed := 0
	cursor := 0
	for _, w := range words {
		wordStart := strings.Index(remainder[cursor:], w) + cursor
		wordEnd := wordStart + len(w)
		if coordinatingConjunctions[strings.ToLower(strings.Trim(w, ".,;:"))] {
			end = wordStart
			break
		}
		consumed++
		cursor = wordEnd
		if consumed >= maxWords {
			end = wordEnd
			break
		}
	}
	if consumed < maxWords && end == len(remainder) {
		end = cursor
	}

	return start + end
}

// spanWithin reports whether target lies within scope.
func spanWithin(target, scope domain.Span) bool {
	return target.Within(scope)
}
