package contracts

import (
	"strings"
	"time"
)

// RiskLevel is an ordered risk tier.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Rank orders risk tiers: LOW=1, MEDIUM=2, HIGH=3. Unknown tiers rank 0.
func (r RiskLevel) Rank() int {
	switch RiskLevel(strings.ToUpper(string(r))) {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// Classification is the grounding verdict for a whole answer.
type Classification string

const (
	Grounded           Classification = "GROUNDED"
	PartiallySupported Classification = "PARTIALLY_SUPPORTED"
	Hallucinated       Classification = "HALLUCINATED"
)

// ClaimIssue is an unsupported claim and why.
type ClaimIssue struct {
	Claim  string `json:"claim"`
	Reason string `json:"reason"`
}

// ValidationResult is written once per output.
type ValidationResult struct {
	OutputID       string         `json:"output_id,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	Classification Classification `json:"classification"`
	Score          float64        `json:"score"`
	ClaimCount     int            `json:"claim_count"`
	Issues         []ClaimIssue   `json:"issues"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RiskAssessment is the scorer output for one candidate text.
type RiskAssessment struct {
	Risk       RiskLevel `json:"risk"`
	BiasFlags  []string  `json:"bias_flags"`
	Confidence float64   `json:"confidence"`
	BiasRisk   RiskLevel `json:"bias_risk"`
	BiasScore  float64   `json:"bias_score"`
}

// Verdict is the policy gate decision.
type Verdict string

const (
	VerdictAllow Verdict = "ALLOW"
	VerdictBlock Verdict = "BLOCK"
)

// PolicyDecision is written once per output.
type PolicyDecision struct {
	ID        string    `json:"id,omitempty"`
	OutputID  string    `json:"output_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	Decision  Verdict   `json:"decision"`
	Reasons   []string  `json:"reasons"`
	RulesRef  string    `json:"rules_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PolicyRules is a tenant's gate configuration.
type PolicyRules struct {
	MinEvidenceRatio float64   `json:"minEvidenceRatio" yaml:"minEvidenceRatio"`
	MinConfidence    float64   `json:"minConfidence" yaml:"minConfidence"`
	MaxRisk          RiskLevel `json:"maxRisk" yaml:"maxRisk"`
	ForbidTopics     []string  `json:"forbidTopics" yaml:"forbidTopics"`
	// Expressions are additional CEL conditions. Each must evaluate to true
	// for the output to pass; the map key is used as the reason on failure.
	Expressions map[string]string `json:"expressions,omitempty" yaml:"expressions,omitempty"`
}

// PolicyRecord is a stored, versioned rule set.
type PolicyRecord struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	Name      string      `json:"name"`
	Version   string      `json:"version"`
	Active    bool        `json:"active"`
	Rules     PolicyRules `json:"rules"`
	CreatedAt time.Time   `json:"created_at"`
}
