// Package contracts defines the tenant-scoped records that flow through the
// governance pipeline: prompts, evidence, candidate outputs and their
// validation, scoring, policy and audit children.
package contracts

import "time"

// PromptStatus is the lifecycle state of a submitted prompt.
type PromptStatus string

const (
	PromptSubmitted PromptStatus = "SUBMITTED"
	PromptArchived  PromptStatus = "ARCHIVED"
)

// Prompt is a tenant-scoped question. Immutable after creation.
type Prompt struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	ActorID   string       `json:"actor_id"`
	Text      string       `json:"text"`
	Title     string       `json:"title,omitempty"`
	Domain    string       `json:"domain,omitempty"`
	Urgency   string       `json:"urgency,omitempty"`
	Tags      []string     `json:"tags,omitempty"`
	Status    PromptStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// PromptAnalysis is the keyword-based domain classification of a prompt.
type PromptAnalysis struct {
	PromptID       string    `json:"prompt_id"`
	DetectedDomain string    `json:"detected_domain"`
	KeywordHits    []string  `json:"keyword_hits"`
	Language       string    `json:"language"`
	CreatedAt      time.Time `json:"created_at"`
}

// BiasStage names where a bias analysis ran.
type BiasStage string

const (
	BiasStagePrompt    BiasStage = "prompt"
	BiasStageInference BiasStage = "inference"
)

// BiasSignals lists the lexicon hits behind a bias score.
type BiasSignals struct {
	Stage          BiasStage `json:"stage"`
	Protected      []string  `json:"protected"`
	Restriction    []string  `json:"restriction"`
	Generalization []string  `json:"generalization"`
	Decision       []string  `json:"decision"`
}

// BiasAnalysis is the outcome of one bias pass over a text.
type BiasAnalysis struct {
	Score   float64     `json:"score"`
	Flags   []string    `json:"flags"`
	Signals BiasSignals `json:"signals"`
}
