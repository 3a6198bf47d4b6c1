package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizer_Normalize_EmptyInput(t *testing.T) {
	n := New(DefaultConfig())

	for _, input := range []string{"", "   ", "\t\n"} {
		result, err := n.Normalize(input)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Empty(t, result.Canonical)
		assert.Empty(t, result.Variants)
		assert.Equal(t, input, result.Original)
	}
}

func TestNormalizer_Normalize_Canonicalization(t *testing.T) {
	n := New(DefaultConfig())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercase and collapse whitespace", in: "  Chest   Pain  ", want: "chest pain"},
		{name: "strips history of prefix", in: "History of MI", want: "mi"},
		{name: "strips status post prefix", in: "Status Post appendectomy", want: "appendectomy"},
		{name: "smooths curly quotes and em dash", in: "patient’s pain — severe", want: "patient s pain severe"},
		{name: "preserves dosage token", in: "Metformin 500mg BID", want: "metformin 500mg bid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := n.Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Canonical)
		})
	}
}

// TestNormalizer_Normalize_Idempotent checks the round-trip law: normalizing
// an already-canonical term must return it unchanged.
func TestNormalizer_Normalize_Idempotent(t *testing.T) {
	n := New(DefaultConfig())

	inputs := []string{"HTN", "History of MI", "Metformin 500mg BID", "chest pain"}
	for _, in := range inputs {
		first, err := n.Normalize(in)
		require.NoError(t, err)

		second, err := n.Normalize(first.Canonical)
		require.NoError(t, err)

		assert.Equal(t, first.Canonical, second.Canonical)
	}
}

// TestNormalizer_Normalize_AbbreviationVariant covers scenario S2: "htn"
// must generate a "hypertension" variant.
func TestNormalizer_Normalize_AbbreviationVariant(t *testing.T) {
	n := New(DefaultConfig())

	result, err := n.Normalize("HTN")
	require.NoError(t, err)
	assert.Equal(t, "htn", result.Canonical)
	assert.Contains(t, result.Variants, "hypertension")
}

func TestNormalizer_Normalize_ReverseAbbreviationVariant(t *testing.T) {
	n := New(DefaultConfig())

	result, err := n.Normalize("hypertension")
	require.NoError(t, err)
	assert.Equal(t, "hypertension", result.Canonical)
	assert.Contains(t, result.Variants, "htn")
	assert.Contains(t, result.Variants, "high blood pressure")
}

func TestNormalizer_Normalize_VariantsBoundedByMaxVariants(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVariants = 1
	n := New(cfg)

	result, err := n.Normalize("HTN")
	require.NoError(t, err)
	assert.Len(t, result.Variants, 1)
	assert.Equal(t, "htn", result.Variants[0])
}

func TestStripPunctuation(t *testing.T) {
	assert.Equal(t, "chest pain", stripPunctuation("chest, pain!"))
	assert.Equal(t, "500mg", stripPunctuation("500mg"))
	assert.Equal(t, "a b", stripPunctuation("a/b"))
}

func TestStripClinicalPrefixes(t *testing.T) {
	assert.Equal(t, "appendectomy", stripClinicalPrefixes("status post appendectomy"))
	assert.Equal(t, "mi", stripClinicalPrefixes("h/o mi"))
	assert.Equal(t, "chest pain", stripClinicalPrefixes("chest pain"))
}

func TestPreserveMedicalPatterns_RoundTrip(t *testing.T) {
	text, restore := preserveMedicalPatterns("metformin 500mg bid")
	assert.NotContains(t, text, "500mg")
	assert.Equal(t, "metformin 500mg bid", restore(text))
}
