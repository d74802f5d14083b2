package governance

import (
	"testing"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskScorer_RiskTier(t *testing.T) {
	s := NewRiskScorer(nil)

	tests := []struct {
		text string
		want contracts.RiskLevel
	}{
		{"Violations carry a criminal penalty and organizations must comply.", contracts.RiskHigh},
		{"A SANCTION applies.", contracts.RiskHigh},
		{"Organizations must retain logs.", contracts.RiskMedium},
		{"Non-compliance is reported.", contracts.RiskMedium},
		{"Logs are retained.", contracts.RiskLow},
		{"", contracts.RiskLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Score(ScoreInput{OutputText: tt.text}).Risk, tt.text)
	}
}

func TestRiskScorer_Confidence(t *testing.T) {
	s := NewRiskScorer(nil)

	tests := []struct {
		name string
		in   ScoreInput
		want float64
	}{
		{"fully supported", ScoreInput{EvidenceRatio: 1, ClaimCount: 1}, 1.0},
		{"half supported", ScoreInput{EvidenceRatio: 0.5, ClaimCount: 4, IssueCount: 2}, 0.5},
		{"no claims gives no issue credit", ScoreInput{EvidenceRatio: 0.5}, 0.35},
		{"ratio above one is clamped", ScoreInput{EvidenceRatio: 1.5, ClaimCount: 2}, 1.0},
		{"issues above claims floor at zero", ScoreInput{EvidenceRatio: 0, ClaimCount: 1, IssueCount: 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Score(tt.in).Confidence, 1e-9)
		})
	}
}

func TestRiskScorer_BiasFlagsAndTier(t *testing.T) {
	s := NewRiskScorer(nil)

	got := s.Score(ScoreInput{OutputText: "Eligibility must not depend on Gender or religion.", PriorBiasScore: 0.3})

	assert.Equal(t, []string{"gender", "religion"}, got.BiasFlags)
	assert.Equal(t, contracts.RiskMedium, got.BiasRisk)
	assert.Equal(t, 0.3, got.BiasScore)
}

func TestBiasRisk(t *testing.T) {
	assert.Equal(t, contracts.RiskHigh, BiasRisk(0.5))
	assert.Equal(t, contracts.RiskMedium, BiasRisk(0.25))
	assert.Equal(t, contracts.RiskMedium, BiasRisk(0.49))
	assert.Equal(t, contracts.RiskLow, BiasRisk(0.2499))
	assert.Equal(t, contracts.RiskLow, BiasRisk(0))
}

func TestBiasAnalyzer_Prompt(t *testing.T) {
	b := NewBiasAnalyzer(nil)

	got := b.AnalyzePrompt("Should we deny benefits to every immigrant based on their religion?")

	assert.Equal(t, 0.44, got.Score)
	assert.Equal(t, []string{"religion", "immigrant", "deny"}, got.Flags)
	assert.Equal(t, contracts.BiasStagePrompt, got.Signals.Stage)
	assert.Empty(t, got.Signals.Decision)
}

func TestBiasAnalyzer_InferenceCountsDecisionTerms(t *testing.T) {
	b := NewBiasAnalyzer(nil)

	got := b.AnalyzeInference("Applicants must be approved; all applicants are eligible.")

	assert.Equal(t, 0.38, got.Score)
	assert.Equal(t, []string{"approve", "eligible", "must"}, got.Signals.Decision)
	assert.Equal(t, []string{"all"}, got.Flags)
}

func TestBiasAnalyzer_ScoreIsClamped(t *testing.T) {
	b := NewBiasAnalyzer(nil)

	got := b.AnalyzeInference("Women are never eligible and should always be denied; ban all minority and immigrant applicants regardless of race, gender, religion and age.")

	assert.Equal(t, 1.0, got.Score)
}

func TestCombinedBiasScore(t *testing.T) {
	p := contracts.BiasAnalysis{Score: 0.2}
	i := contracts.BiasAnalysis{Score: 0.44}
	assert.Equal(t, 0.44, CombinedBiasScore(p, i))
	assert.Equal(t, 0.44, CombinedBiasScore(i, p))
}

func TestSourceConfidence(t *testing.T) {
	chunks := []contracts.ScoredChunk{
		{Similarity: 0.9, SourceType: contracts.SourceInternal},
		{Similarity: 0.5, SourceType: contracts.SourceInternal},
		{Similarity: 0.3, SourceType: contracts.SourceOpenSource},
		{Similarity: 0.7},
	}

	internal, open := SourceConfidence(chunks)
	require.NotNil(t, internal)
	require.NotNil(t, open)
	assert.InDelta(t, 0.7, *internal, 1e-9)
	assert.InDelta(t, 0.3, *open, 1e-9)
}

func TestSourceConfidence_EmptyPartitionIsNil(t *testing.T) {
	internal, open := SourceConfidence([]contracts.ScoredChunk{{Similarity: 0, SourceType: contracts.SourceInternal}})
	require.NotNil(t, internal)
	assert.Zero(t, *internal)
	assert.Nil(t, open)

	internal, open = SourceConfidence(nil)
	assert.Nil(t, internal)
	assert.Nil(t, open)
}

func TestUnion(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Union([]string{"a", "b"}, nil, []string{"b", "c", "a"}))
	assert.Equal(t, []string{}, Union())
}
