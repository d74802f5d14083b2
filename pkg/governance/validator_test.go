package governance

import (
	"testing"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const retentionEvidence = "Organizations handling regulated records must retain audit logs for a minimum of five years."

func TestValidate_GroundedClaim(t *testing.T) {
	v := NewValidator(nil, nil)

	res := v.Validate("Organizations must retain audit logs for five years.", []string{retentionEvidence})

	assert.Equal(t, contracts.Grounded, res.Classification)
	assert.GreaterOrEqual(t, res.Score, 0.8)
	assert.Equal(t, 1, res.ClaimCount)
	assert.Empty(t, res.Issues)
}

func TestValidate_NoEvidence(t *testing.T) {
	v := NewValidator(nil, nil)

	res := v.Validate(
		"Bananas grow on tropical plantations. Jupiter has many moons orbiting. Violins produce beautiful music sounds.",
		nil,
	)

	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, contracts.Hallucinated, res.Classification)
	assert.Equal(t, 3, res.ClaimCount)
	require.Len(t, res.Issues, 3)
	for _, issue := range res.Issues {
		assert.Equal(t, ReasonInsufficientOverlap, issue.Reason)
	}
	assert.Equal(t, "Bananas grow on tropical plantations", res.Issues[0].Claim)
}

func TestValidate_EmptyCandidate(t *testing.T) {
	res := NewValidator(nil, nil).Validate("", []string{retentionEvidence})

	assert.Equal(t, 0, res.ClaimCount)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, contracts.Hallucinated, res.Classification)
	assert.NotNil(t, res.Issues)
}

func TestValidate_ShortClaimsAreNotConsidered(t *testing.T) {
	v := NewValidator(nil, nil)

	res := v.Validate("Audit logs kept. Ok fine. Retention is five years for all records.", []string{"audit logs are kept"})

	assert.Equal(t, 2, res.ClaimCount)
	assert.Equal(t, 0.5, res.Score)
	assert.Equal(t, contracts.PartiallySupported, res.Classification)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "Retention is five years for all records", res.Issues[0].Claim)
}

func TestValidate_OnlyCitationTags(t *testing.T) {
	res := NewValidator(nil, nil).Validate("A b. [S1] [S2].", []string{"x y z"})
	assert.Equal(t, 0, res.ClaimCount)
	assert.Equal(t, contracts.Hallucinated, res.Classification)
}

func TestValidate_ClassificationBoundaries(t *testing.T) {
	v := NewValidator(nil, nil)
	evidence := []string{"Organizations must retain audit logs for five years."}

	tests := []struct {
		name      string
		candidate string
		score     float64
		want      contracts.Classification
	}{
		{
			name:      "four of five is grounded",
			candidate: "Audit logs are retained.\nOrganizations keep audit logs.\nFive years of retention.\nLogs last five years.\nBananas grow on tropical plantations.",
			score:     0.8,
			want:      contracts.Grounded,
		},
		{
			name:      "two of five is partially supported",
			candidate: "Audit logs are retained.\nOrganizations keep audit logs.\nBananas grow on tropical plantations.\nJupiter has many moons.\nViolins produce lovely music.",
			score:     0.4,
			want:      contracts.PartiallySupported,
		},
		{
			name:      "one of three is hallucinated",
			candidate: "Audit logs are retained. Bananas grow on tropical plantations. Jupiter has many moons.",
			score:     1.0 / 3.0,
			want:      contracts.Hallucinated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.candidate, evidence)
			assert.InDelta(t, tt.score, res.Score, 1e-12)
			assert.Equal(t, tt.want, res.Classification)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, contracts.Grounded, Classify(0.8))
	assert.Equal(t, contracts.Grounded, Classify(1))
	assert.Equal(t, contracts.PartiallySupported, Classify(0.79999))
	assert.Equal(t, contracts.PartiallySupported, Classify(0.4))
	assert.Equal(t, contracts.Hallucinated, Classify(0.39999))
	assert.Equal(t, contracts.Hallucinated, Classify(0))
}

func TestValidate_CrossLanguageRelaxesThreshold(t *testing.T) {
	v := NewValidator(nil, nil)
	claim := "Organisasi wajib menyimpan arsip audit selama beberapa periode panjang."

	// 2 of 9 claim tokens overlap (0.22): enough across languages (0.20),
	// not enough within one language (0.25).
	cross := v.Validate(claim, []string{"Organizations must keep audit trails."})
	same := v.Validate(claim, []string{"Organisasi dan audit internal."})

	assert.Equal(t, 1.0, cross.Score)
	assert.Equal(t, 0.0, same.Score)
}

func TestNormalizeTokens(t *testing.T) {
	v := NewValidator(nil, nil)

	assert.Equal(t,
		[]string{"organization", "wajib", "menyimpan", "log", "audit", "selama", "five", "year"},
		v.NormalizeTokens("Organisasi wajib menyimpan log audit selama lima tahun [S1]."))
	assert.Equal(t, []string{"law", "regulation"}, v.NormalizeTokens("Undang-Undang dan Regulasi"))
	assert.Equal(t, []string{"regulation", "decision"}, v.NormalizeTokens("Régulation, décisions!"))
	assert.Empty(t, v.NormalizeTokens("the and is a"))
}

func TestSplitClaims(t *testing.T) {
	assert.Equal(t,
		[]string{"First claim", "Second claim", "Third", "Fourth"},
		SplitClaims("First claim. Second claim!\n\nThird? Fourth..."))
	assert.Nil(t, SplitClaims("  \n . "))
}
