package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

func TestAnalyzer_Analyze_NegationDetected(t *testing.T) {
	a := New(DefaultConfig())
	text := "Patient denies chest pain but reports fatigue."
	// "chest pain" starts right after "Patient denies " (15 chars into the text)
	targetSpan := domain.Span{Start: 15, End: 25}

	out, err := a.Analyze(context.Background(), domain.ContextInput{SurroundingText: text}, targetSpan)
	require.NoError(t, err)
	assert.True(t, out.IsNegated)
	assert.Greater(t, out.NegationConfidence, 0.0)
}

func TestAnalyzer_Analyze_NegationOutOfScope(t *testing.T) {
	a := New(DefaultConfig())
	text := "Patient denies nausea. Reports severe chest pain radiating to the arm."
	// "chest pain" occurs well after the sentence boundary that ends "denies nausea."
	idx := len("Patient denies nausea. Reports severe ")
	targetSpan := domain.Span{Start: idx, End: idx + len("chest pain")}

	out, err := a.Analyze(context.Background(), domain.ContextInput{SurroundingText: text}, targetSpan)
	require.NoError(t, err)
	assert.False(t, out.IsNegated)
}

func TestAnalyzer_Analyze_DomainDetection(t *testing.T) {
	a := New(DefaultConfig())
	text := "Patient has a history of myocardial infarction and coronary artery disease."

	out, err := a.Analyze(context.Background(), domain.ContextInput{SurroundingText: text}, domain.Span{})
	require.NoError(t, err)
	assert.Equal(t, domain.DomainCardiology, out.DetectedDomain)
}

func TestAnalyzer_Analyze_NoEvidenceFallsBackToGeneral(t *testing.T) {
	a := New(DefaultConfig())

	out, err := a.Analyze(context.Background(), domain.ContextInput{SurroundingText: "The weather today is nice."}, domain.Span{})
	require.NoError(t, err)
	assert.Equal(t, domain.DomainGeneral, out.DetectedDomain)
}

func TestAnalyzer_Analyze_HintHonoredWithoutContradiction(t *testing.T) {
	a := New(DefaultConfig())

	out, err := a.Analyze(context.Background(), domain.ContextInput{
		SurroundingText: "Level within normal limits.",
		DomainHint:      domain.DomainLaboratory,
	}, domain.Span{})
	require.NoError(t, err)
	assert.Equal(t, domain.DomainLaboratory, out.DetectedDomain)
}

func TestAnalyzer_Analyze_HintOverriddenByStrongContradiction(t *testing.T) {
	a := New(DefaultConfig())

	out, err := a.Analyze(context.Background(), domain.ContextInput{
		SurroundingText: "Acute myocardial infarction with coronary artery disease and arrhythmia.",
		DomainHint:      domain.DomainLaboratory,
	}, domain.Span{})
	require.NoError(t, err)
	assert.Equal(t, domain.DomainCardiology, out.DetectedDomain)
}

func TestAnalyzer_Analyze_EmptyText(t *testing.T) {
	a := New(DefaultConfig())

	out, err := a.Analyze(context.Background(), domain.ContextInput{}, domain.Span{})
	require.NoError(t, err)
	assert.Equal(t, domain.DomainGeneral, out.DetectedDomain)
	assert.Empty(t, out.Modifiers)
	assert.False(t, out.IsNegated)
}

func TestForwardScope_TruncatesAtSentenceEnd(t *testing.T) {
	text := "no issues. severe pain"
	end := forwardScope(text, 3, 20)
	assert.LessOrEqual(t, end, len("no issues."))
}

func TestForwardScope_TruncatesAtCoordinatingConjunction(t *testing.T) {
	text := " chest pain but patient reports relief"
	end := forwardScope(text, 0, 20)
	assert.LessOrEqual(t, end, len(" chest pain "))
}

func TestSpanWithin(t *testing.T) {
	assert.True(t, spanWithin(domain.Span{Start: 5, End: 10}, domain.Span{Start: 0, End: 20}))
	assert.False(t, spanWithin(domain.Span{Start: 5, End: 30}, domain.Span{Start: 0, End: 20}))
}
