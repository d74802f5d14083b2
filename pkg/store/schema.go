package store

import (
	"context"
	"fmt"
	"strings"
)

// schema is shared by both dialects; {{ts}}, {{json}}, {{real}} and
// {{vector}} are replaced per dialect.
const schema = `
CREATE TABLE IF NOT EXISTS prompts (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	actor_id TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	urgency TEXT NOT NULL DEFAULT '',
	tags {{json}} NOT NULL,
	status TEXT NOT NULL,
	created_at {{ts}} NOT NULL
);
CREATE TABLE IF NOT EXISTS prompt_analyses (
	prompt_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	detected_domain TEXT NOT NULL,
	keyword_hits {{json}} NOT NULL,
	language TEXT NOT NULL,
	created_at {{ts}} NOT NULL
);
CREATE TABLE IF NOT EXISTS bias_analyses (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	score {{real}} NOT NULL,
	flags {{json}} NOT NULL,
	signals {{json}} NOT NULL,
	created_at {{ts}} NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	title TEXT NOT NULL,
	source_uri TEXT NOT NULL DEFAULT '',
	source_type TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at {{ts}} NOT NULL
);
CREATE TABLE IF NOT EXISTS document_versions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	document_id TEXT NOT NULL REFERENCES documents(id),
	version INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	content_ref TEXT NOT NULL DEFAULT '',
	created_at {{ts}} NOT NULL,
	UNIQUE (document_id, version)
);
CREATE TABLE IF NOT EXISTS evidence_chunks (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	document_id TEXT NOT NULL REFERENCES documents(id),
	version_id TEXT NOT NULL REFERENCES document_versions(id),
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding {{vector}} NOT NULL,
	created_at {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS evidence_chunks_tenant ON evidence_chunks (tenant_id);
CREATE TABLE IF NOT EXISTS rag_sessions (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	prompt_id TEXT NOT NULL,
	chunk_ids {{json}} NOT NULL,
	match_count INTEGER NOT NULL,
	top_similarity {{real}} NOT NULL,
	created_at {{ts}} NOT NULL
);
CREATE TABLE IF NOT EXISTS candidate_outputs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	prompt_id TEXT NOT NULL REFERENCES prompts(id),
	mode TEXT NOT NULL,
	text TEXT NOT NULL,
	status TEXT NOT NULL,
	confidence {{real}},
	risk_level TEXT NOT NULL DEFAULT '',
	bias_flags {{json}} NOT NULL,
	bias_risk TEXT NOT NULL DEFAULT '',
	confidence_internal {{real}},
	confidence_open_source {{real}},
	governed_output TEXT NOT NULL DEFAULT '',
	reviewed_content TEXT NOT NULL DEFAULT '',
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS candidate_outputs_tenant ON candidate_outputs (tenant_id, created_at);
CREATE TABLE IF NOT EXISTS model_invocations (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	output_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model_name TEXT NOT NULL,
	model_version TEXT NOT NULL DEFAULT '',
	parameters {{json}} NOT NULL,
	request_hash TEXT NOT NULL,
	created_at {{ts}} NOT NULL
);
CREATE TABLE IF NOT EXISTS output_citations (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	output_id TEXT NOT NULL,
	chunk_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	source_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	source_uri TEXT NOT NULL DEFAULT '',
	similarity {{real}} NOT NULL
);
CREATE TABLE IF NOT EXISTS validation_results (
	output_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	classification TEXT NOT NULL,
	score {{real}} NOT NULL,
	claim_count INTEGER NOT NULL,
	issues {{json}} NOT NULL,
	created_at {{ts}} NOT NULL
);
CREATE TABLE IF NOT EXISTS policy_decisions (
	output_id TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	decision TEXT NOT NULL,
	reasons {{json}} NOT NULL,
	rules_ref TEXT NOT NULL DEFAULT '',
	created_at {{ts}} NOT NULL
);
CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	output_id TEXT NOT NULL UNIQUE,
	reviewer_id TEXT NOT NULL DEFAULT '',
	decision TEXT NOT NULL,
	justification TEXT NOT NULL DEFAULT '',
	modified_content TEXT NOT NULL DEFAULT '',
	created_at {{ts}} NOT NULL
);
CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	active BOOLEAN NOT NULL,
	rules {{json}} NOT NULL,
	created_at {{ts}} NOT NULL,
	UNIQUE (tenant_id, name, version)
);
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	actor_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL UNIQUE,
	created_at {{ts}} NOT NULL,
	UNIQUE (tenant_id, seq)
);
CREATE TABLE IF NOT EXISTS idempotency_keys (
	idem_key TEXT PRIMARY KEY,
	status_code INTEGER NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	cached_at BIGINT NOT NULL
);
`

// Schema returns the DDL for d.
func Schema(d Dialect) string {
	var r *strings.Replacer
	if d == SQLite {
		r = strings.NewReplacer("{{ts}}", "TEXT", "{{json}}", "TEXT", "{{real}}", "REAL", "{{vector}}", "TEXT")
		return r.Replace(schema)
	}
	r = strings.NewReplacer("{{ts}}", "TIMESTAMPTZ", "{{json}}", "JSONB", "{{real}}", "DOUBLE PRECISION", "{{vector}}", "vector(1536)")
	return "CREATE EXTENSION IF NOT EXISTS vector;\n" + r.Replace(schema)
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema(s.dialect), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate %s: %w", s.dialect, err)
		}
	}
	return nil
}
