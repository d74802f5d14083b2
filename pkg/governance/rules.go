package governance

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// DefaultRules is the rule set applied to tenants with no active policy.
func DefaultRules() contracts.PolicyRules {
	return contracts.PolicyRules{
		MinEvidenceRatio: 0.6,
		MinConfidence:    0.55,
		MaxRisk:          contracts.RiskMedium,
		ForbidTopics:     []string{"medical diagnosis", "weapon", "surveillance"},
	}
}

// RulesDocument is a possibly partial rule set as authored. Missing fields
// take the default value when normalized.
type RulesDocument struct {
	MinEvidenceRatio *float64          `json:"minEvidenceRatio,omitempty" yaml:"minEvidenceRatio,omitempty"`
	MinConfidence    *float64          `json:"minConfidence,omitempty" yaml:"minConfidence,omitempty"`
	MaxRisk          string            `json:"maxRisk,omitempty" yaml:"maxRisk,omitempty"`
	ForbidTopics     []string          `json:"forbidTopics,omitempty" yaml:"forbidTopics,omitempty"`
	Expressions      map[string]string `json:"expressions,omitempty" yaml:"expressions,omitempty"`
}

// NormalizeRules fills every missing or invalid field of doc from DefaultRules.
// An explicitly empty forbidTopics list is kept empty.
func NormalizeRules(doc RulesDocument) contracts.PolicyRules {
	rules := DefaultRules()

	if doc.MinEvidenceRatio != nil && !math.IsNaN(*doc.MinEvidenceRatio) {
		rules.MinEvidenceRatio = *doc.MinEvidenceRatio
	}
	if doc.MinConfidence != nil && !math.IsNaN(*doc.MinConfidence) {
		rules.MinConfidence = *doc.MinConfidence
	}
	if r := contracts.RiskLevel(strings.ToUpper(strings.TrimSpace(doc.MaxRisk))); r.Rank() > 0 {
		rules.MaxRisk = r
	}
	if doc.ForbidTopics != nil {
		topics := make([]string, 0, len(doc.ForbidTopics))
		for _, t := range doc.ForbidTopics {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
		rules.ForbidTopics = topics
	}
	if len(doc.Expressions) > 0 {
		rules.Expressions = make(map[string]string, len(doc.Expressions))
		for k, v := range doc.Expressions {
			rules.Expressions[k] = v
		}
	}
	return rules
}

// ParseRules decodes a JSON rules document and normalizes it.
func ParseRules(data []byte) (contracts.PolicyRules, error) {
	var doc RulesDocument
	if len(data) == 0 {
		return DefaultRules(), nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return contracts.PolicyRules{}, fmt.Errorf("parse policy rules: %w", err)
	}
	return NormalizeRules(doc), nil
}
