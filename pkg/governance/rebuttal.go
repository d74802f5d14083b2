package governance

import (
	"strings"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/language"
)

const maxRebuttalIssues = 3

// Rebuttal explains a governance outcome to the requester.
type Rebuttal struct {
	Summary       string   `json:"summary"`
	Issues        []string `json:"issues"`
	PolicyReasons []string `json:"policy_reasons"`
	EvidenceRatio float64  `json:"evidence_ratio"`
}

// GovernedSummary is the short banner shown next to a governed answer.
type GovernedSummary struct {
	Headline string   `json:"headline"`
	Notes    []string `json:"notes"`
}

var classificationSummary = map[language.Code]map[contracts.Classification]string{
	language.English: {
		contracts.Hallucinated:       "The output is not supported by sufficient evidence.",
		contracts.PartiallySupported: "Some claims are not supported by evidence.",
		contracts.Grounded:           "The output is supported by evidence and can proceed to human review.",
	},
	language.Indonesian: {
		contracts.Hallucinated:       "Output tidak didukung evidence yang cukup.",
		contracts.PartiallySupported: "Sebagian klaim tidak didukung evidence.",
		contracts.Grounded:           "Output didukung evidence, lanjut review manusia.",
	},
}

var indonesianReasons = map[string]string{
	ReasonInsufficientOverlap: "tidak ada kecocokan evidence yang cukup",
	ReasonEvidenceRatio:       "rasio evidence tidak mencukupi",
	ReasonConfidence:          "confidence di bawah threshold",
	ReasonRiskLevel:           "level risiko melebihi batas kebijakan",
}

// BuildRebuttal summarizes validation and policy outcomes in lang.
func BuildRebuttal(v contracts.ValidationResult, e Enforcement, lang language.Code) Rebuttal {
	issues := []string{}
	for i, issue := range v.Issues {
		if i == maxRebuttalIssues {
			break
		}
		issues = append(issues, `"`+issue.Claim+`" → `+translate(issue.Reason, lang))
	}

	reasons := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		reasons = append(reasons, translate(r, lang))
	}

	parts := []string{}
	if s, ok := classificationSummary[lang][v.Classification]; ok {
		parts = append(parts, s)
	} else if lang == language.English {
		parts = append(parts, "Validation is unavailable.")
	} else {
		parts = append(parts, "Validasi belum tersedia.")
	}
	if !e.Allowed {
		if lang == language.English {
			parts = append(parts, "Blocked by policy governance.")
		} else {
			parts = append(parts, "Diblokir oleh policy governance.")
		}
	}

	return Rebuttal{
		Summary:       strings.Join(parts, " "),
		Issues:        issues,
		PolicyReasons: reasons,
		EvidenceRatio: v.Score,
	}
}

// BuildGovernedSummary produces the banner for a governed answer.
func BuildGovernedSummary(c contracts.Classification, e Enforcement) GovernedSummary {
	notes := []string{classificationSummary[language.Indonesian][contracts.Hallucinated]}
	switch c {
	case contracts.Grounded:
		notes[0] = "Output didukung evidence yang cukup."
	case contracts.PartiallySupported:
		notes[0] = classificationSummary[language.Indonesian][contracts.PartiallySupported]
	}
	if e.Allowed {
		notes = append(notes, "Lanjut ke human review.")
	} else {
		notes = append(notes, "Diblokir oleh policy governance.")
	}
	return GovernedSummary{Headline: "Validated AI (Governed)", Notes: notes}
}

// BlockedMessage replaces the answer text when the gate blocks it.
func BlockedMessage(lang language.Code) string {
	if lang == language.English {
		return "Output blocked by governance due to insufficient evidence or policy violation."
	}
	return "Output ditolak oleh governance karena evidence tidak mencukupi atau melanggar kebijakan."
}

func translate(reason string, lang language.Code) string {
	if lang == language.English {
		return reason
	}
	if topic, ok := strings.CutPrefix(reason, ReasonForbiddenTopic); ok {
		return "topik terlarang terdeteksi: " + topic
	}
	if t, ok := indonesianReasons[reason]; ok {
		return t
	}
	return reason
}
