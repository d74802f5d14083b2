package governance

import (
	"testing"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/language"
	"github.com/stretchr/testify/assert"
)

func TestBuildRebuttal_English(t *testing.T) {
	v := contracts.ValidationResult{
		Classification: contracts.Hallucinated,
		Score:          0.25,
		Issues: []contracts.ClaimIssue{
			{Claim: "a", Reason: ReasonInsufficientOverlap},
			{Claim: "b", Reason: ReasonInsufficientOverlap},
			{Claim: "c", Reason: ReasonInsufficientOverlap},
			{Claim: "d", Reason: ReasonInsufficientOverlap},
		},
	}
	e := Enforcement{Allowed: false, Reasons: []string{ReasonEvidenceRatio, ReasonForbiddenTopic + "weapon"}}

	r := BuildRebuttal(v, e, language.English)

	assert.Equal(t, "The output is not supported by sufficient evidence. Blocked by policy governance.", r.Summary)
	assert.Equal(t, []string{
		`"a" → insufficient evidence overlap`,
		`"b" → insufficient evidence overlap`,
		`"c" → insufficient evidence overlap`,
	}, r.Issues)
	assert.Equal(t, e.Reasons, r.PolicyReasons)
	assert.Equal(t, 0.25, r.EvidenceRatio)
}

func TestBuildRebuttal_Indonesian(t *testing.T) {
	v := contracts.ValidationResult{
		Classification: contracts.Grounded,
		Score:          1,
		Issues:         []contracts.ClaimIssue{{Claim: "x", Reason: ReasonInsufficientOverlap}},
	}
	e := Enforcement{Allowed: false, Reasons: []string{ReasonRiskLevel, ReasonForbiddenTopic + "weapon", "custom"}}

	r := BuildRebuttal(v, e, language.Indonesian)

	assert.Equal(t, "Output didukung evidence, lanjut review manusia. Diblokir oleh policy governance.", r.Summary)
	assert.Equal(t, []string{`"x" → tidak ada kecocokan evidence yang cukup`}, r.Issues)
	assert.Equal(t, []string{
		"level risiko melebihi batas kebijakan",
		"topik terlarang terdeteksi: weapon",
		"custom",
	}, r.PolicyReasons)
}

func TestBuildRebuttal_UnknownClassification(t *testing.T) {
	r := BuildRebuttal(contracts.ValidationResult{}, Enforcement{Allowed: true}, language.English)
	assert.Equal(t, "Validation is unavailable.", r.Summary)
	assert.Empty(t, r.Issues)
}

func TestBuildGovernedSummary(t *testing.T) {
	s := BuildGovernedSummary(contracts.Grounded, Enforcement{Allowed: true})
	assert.Equal(t, "Validated AI (Governed)", s.Headline)
	assert.Equal(t, []string{"Output didukung evidence yang cukup.", "Lanjut ke human review."}, s.Notes)

	s = BuildGovernedSummary(contracts.Hallucinated, Enforcement{Reasons: []string{"x"}})
	assert.Equal(t, []string{"Output tidak didukung evidence yang cukup.", "Diblokir oleh policy governance."}, s.Notes)
}

func TestBlockedMessage(t *testing.T) {
	assert.Contains(t, BlockedMessage(language.English), "Output blocked by governance")
	assert.Contains(t, BlockedMessage(language.Indonesian), "ditolak oleh governance")
}
