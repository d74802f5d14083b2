package contracts

import "time"

// OutputStatus is the lifecycle state of a candidate output.
//
//	DRAFT -> PENDING_REVIEW | REJECTED -> APPROVED | REJECTED
type OutputStatus string

const (
	OutputDraft         OutputStatus = "DRAFT"
	OutputPendingReview OutputStatus = "PENDING_REVIEW"
	OutputApproved      OutputStatus = "APPROVED"
	OutputRejected      OutputStatus = "REJECTED"
)

// GenerationMode distinguishes evidence-grounded runs from the comparison baseline.
type GenerationMode string

const (
	ModeGoverned   GenerationMode = "governed"
	ModeUngoverned GenerationMode = "ungoverned"
)

// CandidateOutput is a generated answer to one prompt. Scoring fields are
// filled in as the pipeline advances; the original text is never edited.
type CandidateOutput struct {
	ID                   string         `json:"id"`
	TenantID             string         `json:"tenant_id"`
	PromptID             string         `json:"prompt_id"`
	Mode                 GenerationMode `json:"mode"`
	Text                 string         `json:"text"`
	Status               OutputStatus   `json:"status"`
	Confidence           *float64       `json:"confidence,omitempty"`
	RiskLevel            RiskLevel      `json:"risk_level,omitempty"`
	BiasFlags            []string       `json:"bias_flags,omitempty"`
	BiasRisk             RiskLevel      `json:"bias_risk,omitempty"`
	ConfidenceInternal   *float64       `json:"confidence_internal"`
	ConfidenceOpenSource *float64       `json:"confidence_open_source"`
	GovernedOutput       string         `json:"governed_output,omitempty"`
	ReviewedContent      string         `json:"reviewed_content,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// OutputScores is the stage update applied after scoring.
type OutputScores struct {
	Confidence           float64
	RiskLevel            RiskLevel
	BiasFlags            []string
	BiasRisk             RiskLevel
	ConfidenceInternal   *float64
	ConfidenceOpenSource *float64
}

// ModelInvocation records which model produced an output and with what input.
type ModelInvocation struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenant_id"`
	OutputID    string             `json:"output_id"`
	Provider    string             `json:"provider"`
	ModelName   string             `json:"model_name"`
	Version     string             `json:"model_version"`
	Parameters  map[string]float64 `json:"parameters"`
	RequestHash string             `json:"request_hash"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ReviewDecision is the human verdict on a gated output.
type ReviewDecision string

const (
	ReviewApproved ReviewDecision = "APPROVED"
	ReviewRejected ReviewDecision = "REJECTED"
)

// Valid reports whether d is one of the accepted decisions.
func (d ReviewDecision) Valid() bool {
	return d == ReviewApproved || d == ReviewRejected
}

// Review is a human decision on an output.
type Review struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	OutputID        string         `json:"output_id"`
	ReviewerID      string         `json:"reviewer_id"`
	Decision        ReviewDecision `json:"decision"`
	Justification   string         `json:"justification"`
	ModifiedContent string         `json:"modified_content,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
