// Package normalizer implements the Normalizer (spec §4.1): deterministic,
// pure, cacheable canonicalization of free-text medical terms plus a
// breadth-limited set of generated variants.
package normalizer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// Config configures abbreviation/synonym maps and fan-out bounds.
type Config struct {
	// AbbreviationMap maps lowercase abbreviations to their expansion, e.g.
	// "htn" -> "hypertension".
	AbbreviationMap map[string]string
	// SynonymMap maps a lowercase canonical term to additional synonyms.
	SynonymMap map[string][]string
	// MaxVariants bounds variant-generation fan-out.
	MaxVariants int
}

// DefaultConfig returns a small built-in abbreviation map covering the
// spec's own worked examples (S1/S2) plus a conservative variant cap.
func DefaultConfig() Config {
	return Config{
		AbbreviationMap: map[string]string{
			"htn":  "hypertension",
			"dm":   "diabetes mellitus",
			"mi":   "myocardial infarction",
			"copd": "chronic obstructive pulmonary disease",
			"cad":  "coronary artery disease",
			"chf":  "congestive heart failure",
			"afib": "atrial fibrillation",
		},
		SynonymMap: map[string][]string{
			"hypertension": {"high blood pressure"},
		},
		MaxVariants: 16,
	}
}

var (
	controlCharsRe = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	whitespaceRe   = regexp.MustCompile(`\s+`)

	// Clinical prefixes stripped per spec §4.1 step 7; only the first one
	// that matches is removed.
	clinicalPrefixes = []string{"history of", "status post", "rule out", "h/o", "s/p", "r/o"}

	// Medical pattern preservation (spec §4.1 step 6): dosage tokens,
	// ranges, frequency abbreviations, decimal values with units.
	dosagePattern    = regexp.MustCompile(`\b\d+(\.\d+)?\s?(mg|mcg|g|ml|mmol|units?|iu)\b`)
	rangePattern     = regexp.MustCompile(`\b\d+\s*-\s*\d+\b`)
	frequencyPattern = regexp.MustCompile(`\b(bid|tid|qid|qd|qhs|prn|q\d+h)\b`)

	medicalPatterns = []*regexp.Regexp{dosagePattern, rangePattern, frequencyPattern}
)

// Normalizer implements domain.Normalizer.
type Normalizer struct {
	cfg Config
}

// New constructs a Normalizer from cfg.
func New(cfg Config) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Normalize produces a canonical form plus an ordered list of variants
// (spec §4.1). Empty/whitespace input returns an empty NormalizedTerm, not
// an error.
func (n *Normalizer) Normalize(text string) (*domain.NormalizedTerm, error) {
	if strings.TrimSpace(text) == "" {
		return &domain.NormalizedTerm{Original: text}, nil
	}

	canonical := n.canonicalize(text)
	variants := n.generateVariants(canonical)

	return &domain.NormalizedTerm{
		Original:  text,
		Canonical: canonical,
		Variants:  variants,
	}, nil
}

// canonicalize runs steps 1-7 of spec §4.1. Malformed Unicode is replaced
// with the replacement codepoint rather than raising an error, matching the
// spec's no-throw guarantee.
func (n *Normalizer) canonicalize(text string) string {
	// 1. strip control chars
	text = controlCharsRe.ReplaceAllString(text, "")

	// 2. Unicode NFKC
	text = norm.NFKC.String(text)

	// 3. lowercase
	text = strings.ToLower(text)

	// 6a. preserve medical patterns: substitute placeholders before general
	// punctuation smoothing, restore afterward.
	text, restore := preserveMedicalPatterns(text)

	// 5. normalize quotes and dashes
	text = normalizeQuotesAndDashes(text)

	// general punctuation smoothing: drop everything that isn't a letter,
	// digit, or whitespace. Placeholder tokens are alphanumeric and survive.
	text = stripPunctuation(text)

	// 4. collapse whitespace
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	// restore medical pattern placeholders
	text = restore(text)

	// 7. strip clinical prefixes
	text = stripClinicalPrefixes(text)

	return text
}

const placeholderPrefix = "zzmedpatzz"

// preserveMedicalPatterns substitutes each recognized medical pattern match
// with an alphanumeric placeholder token unlikely to collide with clinical
// text, and returns a restore function that puts the original substrings
// back after punctuation smoothing runs.
func preserveMedicalPatterns(text string) (string, func(string) string) {
	var saved []string
	for _, re := range medicalPatterns {
		text = re.ReplaceAllStringFunc(text, func(match string) string {
			idx := len(saved)
			saved = append(saved, match)
			return placeholderFor(idx)
		})
	}
	restore := func(s string) string {
		for i, original := range saved {
			s = strings.ReplaceAll(s, placeholderFor(i), original)
		}
		return s
	}
	return text, restore
}

func placeholderFor(i int) string {
	return placeholderPrefix + itoaSimple(i)
}

func itoaSimple(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}

func normalizeQuotesAndDashes(text string) string {
	replacer := strings.NewReplacer(
		"‘", "'", "’", "'", "“", `"`, "”", `"`,
		"–", "-", "—", "-", "−", "-",
	)
	return replacer.Replace(text)
}

func stripPunctuation(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteRune(' ')
	}
	return b.String()
}

func stripClinicalPrefixes(text string) string {
	for _, prefix := range clinicalPrefixes {
		// Punctuation smoothing runs first in canonicalize, turning "h/o"
		// into "h o", so both spellings are accepted.
		for _, p := range []string{prefix, strings.ReplaceAll(prefix, "/", " ")} {
			if strings.HasPrefix(text, p+" ") {
				return strings.TrimSpace(strings.TrimPrefix(text, p+" "))
			}
		}
	}
	return text
}

// generateVariants produces the normalized form, abbreviation expansions,
// reverse expansions, synonym expansions, and a punctuation-less
// tokenization, breadth-limited to cfg.MaxVariants (spec §4.1 step 8).
func (n *Normalizer) generateVariants(canonical string) []string {
	seen := map[string]bool{canonical: true}
	variants := []string{canonical}

	add := func(v string) bool {
		if len(variants) >= n.cfg.MaxVariants {
			return true
		}
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			return len(variants) >= n.cfg.MaxVariants
		}
		seen[v] = true
		variants = append(variants, v)
		return len(variants) >= n.cfg.MaxVariants
	}

	if expansion, ok := n.cfg.AbbreviationMap[canonical]; ok {
		if add(expansion) {
			return variants
		}
	}
	for abbr, expansion := range n.cfg.AbbreviationMap {
		if expansion == canonical {
			if add(abbr) {
				return variants
			}
		}
	}
	for _, syn := range n.cfg.SynonymMap[canonical] {
		if add(syn) {
			return variants
		}
	}

	tokens := strings.Fields(canonical)
	if len(tokens) > 1 {
		if add(strings.Join(tokens, "")) {
			return variants
		}
	}

	return variants
}
