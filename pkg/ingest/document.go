// Package ingest turns source documents into embedded evidence chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/veridecide/pkg/artifacts"
	"github.com/Mindburn-Labs/veridecide/pkg/audit"
	"github.com/Mindburn-Labs/veridecide/pkg/canonicalize"
	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/rag"
)

// ErrInvalidInput is returned when a document has no title or no content.
var ErrInvalidInput = errors.New("ingest: title and content are required")

// Store is the write side of the evidence store.
type Store interface {
	InsertDocument(ctx context.Context, d *contracts.Document) error
	InsertVersion(ctx context.Context, v *contracts.DocumentVersion) error
	InsertChunks(ctx context.Context, chunks []contracts.EvidenceChunk) error
}

// Recorder appends audit events.
type Recorder interface {
	Append(ctx context.Context, req audit.AppendRequest) (*contracts.AuditEvent, error)
}

// DocumentInput is a document submitted by a tenant.
type DocumentInput struct {
	TenantID  string
	ActorID   string
	Title     string
	Content   string
	SourceURI string
}

// DocumentResult identifies what was stored.
type DocumentResult struct {
	DocumentID string                `json:"document_id"`
	VersionID  string                `json:"version_id"`
	Chunks     int                   `json:"chunks"`
	Checksum   string                `json:"checksum"`
	ContentRef string                `json:"content_ref,omitempty"`
	Audit      *contracts.AuditEvent `json:"audit,omitempty"`
}

// Ingester stores documents as versioned, chunked and embedded evidence.
type Ingester struct {
	store     Store
	ledger    Recorder
	blobs     artifacts.Store
	embedder  rag.Embedder
	chunkSize int
	clock     func() time.Time
	logger    *slog.Logger

	openSource OpenSourceConfig
	searcher   Searcher
	fetcher    *Fetcher
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithArtifacts archives every document body in blobs.
func WithArtifacts(blobs artifacts.Store) Option {
	return func(i *Ingester) { i.blobs = blobs }
}

// WithEmbedder replaces the hash embedder.
func WithEmbedder(e rag.Embedder) Option {
	return func(i *Ingester) { i.embedder = e }
}

// WithChunkSize sets the chunk length in characters.
func WithChunkSize(n int) Option {
	return func(i *Ingester) { i.chunkSize = n }
}

// WithClock injects the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(i *Ingester) { i.clock = clock }
}

// NewIngester creates an ingester writing to store and auditing to ledger.
func NewIngester(store Store, ledger Recorder, opts ...Option) *Ingester {
	i := &Ingester{
		store:      store,
		ledger:     ledger,
		embedder:   rag.HashEmbedder{},
		chunkSize:  rag.DefaultChunkSize,
		clock:      time.Now,
		logger:     slog.Default().With("component", "ingest"),
		openSource: OpenSourceConfig{Allowlist: DefaultAllowlist(), MaxResults: 6, MaxChars: 8000},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IngestDocument stores an internal document as version 1 and appends
// DOCUMENT_INGESTED. Title and content are trimmed before the check.
func (i *Ingester) IngestDocument(ctx context.Context, in DocumentInput) (*DocumentResult, error) {
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	sourceURI := strings.TrimSpace(in.SourceURI)
	if title == "" || content == "" || strings.TrimSpace(in.TenantID) == "" {
		return nil, ErrInvalidInput
	}

	res, err := i.storeDocument(ctx, in.TenantID, in.ActorID, title, content, sourceURI, contracts.SourceInternal)
	if err != nil {
		return nil, err
	}

	evt, err := i.ledger.Append(ctx, audit.AppendRequest{
		TenantID:   in.TenantID,
		ActorID:    in.ActorID,
		Action:     contracts.ActionDocumentIngested,
		EntityType: contracts.EntityDocument,
		EntityID:   res.DocumentID,
		Payload:    map[string]any{"title": title, "sourceUri": sourceURI, "chunkCount": res.Chunks},
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: audit document %s: %w", res.DocumentID, err)
	}
	res.Audit = evt
	i.logger.InfoContext(ctx, "document ingested",
		"tenant_id", in.TenantID, "document_id", res.DocumentID, "chunks", res.Chunks)
	return res, nil
}

// storeDocument writes the document, its first version and its chunks.
func (i *Ingester) storeDocument(ctx context.Context, tenantID, actorID, title, content, sourceURI string, source contracts.SourceType) (*DocumentResult, error) {
	now := i.clock().UTC()
	checksum := canonicalize.HashString(content)

	var contentRef string
	if i.blobs != nil {
		ref, err := i.blobs.Put(ctx, []byte(content))
		if err != nil {
			return nil, fmt.Errorf("ingest: archive body: %w", err)
		}
		contentRef = ref
	}

	doc := &contracts.Document{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Title:      title,
		SourceURI:  sourceURI,
		SourceType: source,
		CreatedBy:  actorID,
		CreatedAt:  now,
	}
	if err := i.store.InsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("ingest: create document: %w", err)
	}

	ver := &contracts.DocumentVersion{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		DocumentID: doc.ID,
		Version:    1,
		Checksum:   checksum,
		ContentRef: contentRef,
		CreatedAt:  now,
	}
	if err := i.store.InsertVersion(ctx, ver); err != nil {
		return nil, fmt.Errorf("ingest: create version: %w", err)
	}

	pieces := rag.ChunkText(content, i.chunkSize)
	chunks := make([]contracts.EvidenceChunk, 0, len(pieces))
	for idx, piece := range pieces {
		vec, err := i.embedder.Embed(ctx, piece)
		if err != nil {
			return nil, fmt.Errorf("ingest: embed chunk %d: %w", idx, err)
		}
		chunks = append(chunks, contracts.EvidenceChunk{
			ID:         uuid.NewString(),
			TenantID:   tenantID,
			DocumentID: doc.ID,
			VersionID:  ver.ID,
			Index:      idx,
			Content:    piece,
			Embedding:  vec,
			CreatedAt:  now,
		})
	}
	if err := i.store.InsertChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("ingest: insert chunks: %w", err)
	}

	return &DocumentResult{
		DocumentID: doc.ID,
		VersionID:  ver.ID,
		Chunks:     len(chunks),
		Checksum:   checksum,
		ContentRef: contentRef,
	}, nil
}
