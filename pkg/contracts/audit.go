package contracts

import (
	"encoding/json"
	"time"
)

// Audit actions emitted by the pipeline, ingestion and review.
const (
	ActionPromptSubmitted     = "PROMPT_SUBMITTED"
	ActionPromptAnalyzed      = "PROMPT_ANALYZED"
	ActionPromptBiasAnalyzed  = "PROMPT_BIAS_ANALYZED"
	ActionOpenSourceIngested  = "OPEN_SOURCE_INGESTED"
	ActionRAGRetrieved        = "RAG_RETRIEVED"
	ActionOutputGenerated     = "OUTPUT_GENERATED"
	ActionOutputValidated     = "OUTPUT_VALIDATED"
	ActionOutputScored        = "OUTPUT_SCORED"
	ActionPolicyEnforced      = "POLICY_ENFORCED"
	ActionPipelineFailed      = "PIPELINE_FAILED"
	ActionHumanReview         = "HUMAN_REVIEW"
	ActionDocumentIngested    = "DOCUMENT_INGESTED"
	ActionAuditBundleExported = "AUDIT_BUNDLE_EXPORTED"
)

// Entity types referenced by audit events.
const (
	EntityPrompt         = "prompt"
	EntityPromptAnalysis = "prompt_analysis"
	EntityPromptBias     = "prompt_bias"
	EntityOpenSource     = "open_source"
	EntityOutput         = "output"
	EntityValidation     = "validation"
	EntityPolicyDecision = "policy_decision"
	EntityReview         = "review"
	EntityDocument       = "document"
	EntityRAG            = "rag_session"
	EntityLedger         = "ledger"
)

// AuditEvent is one link of a tenant's hash chain. Never mutated.
type AuditEvent struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Seq        int64           `json:"seq"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditRef links a governance record to the event that recorded it.
type AuditRef struct {
	EventID string `json:"event_id"`
	Action  string `json:"action"`
	Seq     int64  `json:"seq"`
	Hash    string `json:"hash"`
}

// Ref returns the linkage view of e.
func (e *AuditEvent) Ref() AuditRef {
	return AuditRef{EventID: e.ID, Action: e.Action, Seq: e.Seq, Hash: e.Hash}
}
