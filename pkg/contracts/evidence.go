package contracts

import "time"

// SourceType records where a document came from.
type SourceType string

const (
	SourceInternal   SourceType = "internal"
	SourceOpenSource SourceType = "open_source"
)

// Document is a trusted source registered by a tenant.
type Document struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Title      string     `json:"title"`
	SourceURI  string     `json:"source_uri,omitempty"`
	SourceType SourceType `json:"source_type"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DocumentVersion is an immutable body of a document.
type DocumentVersion struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	DocumentID string    `json:"document_id"`
	Version    int       `json:"version"`
	Checksum   string    `json:"checksum"`
	ContentRef string    `json:"content_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// EvidenceChunk is a fragment of a document version with its embedding.
// Similarity is not part of a chunk; see ScoredChunk.
type EvidenceChunk struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	DocumentID string    `json:"document_id"`
	VersionID  string    `json:"version_id"`
	Index      int       `json:"chunk_index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScoredChunk is a chunk returned by retrieval together with its
// similarity to the query and the provenance of its document.
type ScoredChunk struct {
	Chunk         EvidenceChunk `json:"chunk"`
	Similarity    float64       `json:"similarity"`
	SourceType    SourceType    `json:"source_type"`
	DocumentTitle string        `json:"document_title,omitempty"`
	SourceURI     string        `json:"source_uri,omitempty"`
}

// RAGSession records what retrieval returned for a prompt.
type RAGSession struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	PromptID      string    `json:"prompt_id"`
	ChunkIDs      []string  `json:"chunk_ids"`
	MatchCount    int       `json:"match_count"`
	TopSimilarity float64   `json:"top_similarity"`
	CreatedAt     time.Time `json:"created_at"`
}

// Citation binds an [S#] tag in an output to the chunk it refers to.
type Citation struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	OutputID   string     `json:"output_id"`
	ChunkID    string     `json:"chunk_id"`
	Tag        string     `json:"tag"`
	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title,omitempty"`
	SourceURI  string     `json:"source_uri,omitempty"`
	Similarity float64    `json:"similarity"`
}

// IngestSkip is a search hit that was not fetched.
type IngestSkip struct {
	URL    string `json:"url"`
	Host   string `json:"host"`
	Reason string `json:"reason"`
}

// IngestFailure is a search hit whose fetch or store failed.
type IngestFailure struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// IngestReport summarizes one open-source ingestion run.
type IngestReport struct {
	Query          string          `json:"query"`
	Attempted      int             `json:"attempted"`
	Ingested       int             `json:"ingested"`
	Skipped        int             `json:"skipped"`
	SkippedDomains []IngestSkip    `json:"skipped_domains"`
	Errors         []IngestFailure `json:"errors"`
	DocumentIDs    []string        `json:"document_ids,omitempty"`
}
