package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/rag"
)

// InsertDocument registers a trusted source.
func (s *SQLStore) InsertDocument(ctx context.Context, d *contracts.Document) error {
	_, err := s.exec(ctx, `INSERT INTO documents (id, tenant_id, title, source_uri, source_type, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TenantID, d.Title, d.SourceURI, string(d.SourceType), d.CreatedBy, s.dialect.timeArg(d.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: document %s", ErrAlreadyExists, d.ID)
	}
	if err != nil {
		return fmt.Errorf("store: insert document: %w", err)
	}
	return nil
}

// GetDocument returns one of the tenant's documents.
func (s *SQLStore) GetDocument(ctx context.Context, tenantID, id string) (*contracts.Document, error) {
	var (
		d          contracts.Document
		sourceType string
		created    scanTime
	)
	err := s.queryRow(ctx, `SELECT id, tenant_id, title, source_uri, source_type, created_by, created_at FROM documents WHERE tenant_id = ? AND id = ?`, tenantID, id).
		Scan(&d.ID, &d.TenantID, &d.Title, &d.SourceURI, &sourceType, &d.CreatedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	d.SourceType = contracts.SourceType(sourceType)
	d.CreatedAt = created.Time
	return &d, nil
}

// InsertVersion stores an immutable document body reference.
func (s *SQLStore) InsertVersion(ctx context.Context, v *contracts.DocumentVersion) error {
	_, err := s.exec(ctx, `INSERT INTO document_versions (id, tenant_id, document_id, version, checksum, content_ref, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.TenantID, v.DocumentID, v.Version, v.Checksum, v.ContentRef, s.dialect.timeArg(v.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: version %d of document %s", ErrAlreadyExists, v.Version, v.DocumentID)
	}
	if err != nil {
		return fmt.Errorf("store: insert document version: %w", err)
	}
	return nil
}

// InsertChunks stores chunks with their embeddings in one transaction.
func (s *SQLStore) InsertChunks(ctx context.Context, chunks []contracts.EvidenceChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin chunk insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	vec := "?"
	if s.dialect == Postgres {
		vec = "?::vector"
	}
	stmt, err := tx.PrepareContext(ctx, s.dialect.Rebind(`INSERT INTO evidence_chunks (id, tenant_id, document_id, version_id, chunk_index, content, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?, `+vec+`, ?)`))
	if err != nil {
		return fmt.Errorf("store: prepare chunk insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.TenantID, c.DocumentID, c.VersionID, c.Index, c.Content, EncodeVector(c.Embedding), s.dialect.timeArg(c.CreatedAt)); err != nil {
			return fmt.Errorf("store: insert chunk %d: %w", c.Index, err)
		}
	}
	return tx.Commit()
}

const chunkSelect = `SELECT c.id, c.tenant_id, c.document_id, c.version_id, c.chunk_index, c.content, c.created_at, d.title, d.source_uri, d.source_type`

// QueryTopK returns the tenant's k chunks most similar to vector. Postgres
// ranks inside the database with pgvector's cosine distance; SQLite loads
// the tenant's chunks and ranks them in process.
func (s *SQLStore) QueryTopK(ctx context.Context, tenantID string, vector []float32, k int) ([]contracts.ScoredChunk, error) {
	if s.dialect == Postgres {
		return s.queryTopKVector(ctx, tenantID, vector, k)
	}

	rows, err := s.query(ctx, chunkSelect+`, c.embedding FROM evidence_chunks c JOIN documents d ON d.id = c.document_id WHERE c.tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []contracts.ScoredChunk
	for rows.Next() {
		var (
			sc        contracts.ScoredChunk
			embedding string
		)
		if err := scanChunk(rows, &sc, &embedding); err != nil {
			return nil, err
		}
		if sc.Chunk.Embedding, err = DecodeVector(embedding); err != nil {
			return nil, err
		}
		candidates = append(candidates, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rag.RankChunks(vector, candidates, k), nil
}

func (s *SQLStore) queryTopKVector(ctx context.Context, tenantID string, vector []float32, k int) ([]contracts.ScoredChunk, error) {
	vec := EncodeVector(vector)
	rows, err := s.query(ctx, chunkSelect+`, 1 - (c.embedding <=> ?::vector) AS similarity
		FROM evidence_chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.tenant_id = ?
		ORDER BY c.embedding <=> ?::vector
		LIMIT ?`, vec, tenantID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("store: vector query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []contracts.ScoredChunk{}
	for rows.Next() {
		var sc contracts.ScoredChunk
		if err := scanChunk(rows, &sc, &sc.Similarity); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rag.SortBySimilarity(out)
	return out, nil
}

func scanChunk(r rowScanner, sc *contracts.ScoredChunk, last any) error {
	var (
		created    scanTime
		sourceType string
	)
	c := &sc.Chunk
	if err := r.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.VersionID, &c.Index, &c.Content, &created, &sc.DocumentTitle, &sc.SourceURI, &sourceType, last); err != nil {
		return fmt.Errorf("store: scan chunk: %w", err)
	}
	c.CreatedAt = created.Time
	sc.SourceType = contracts.SourceType(sourceType)
	return nil
}
