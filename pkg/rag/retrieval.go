package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// DefaultMatchCount is the number of chunks retrieved when none is requested.
const DefaultMatchCount = 6

// ErrRetrievalFailed wraps any failure of the backing evidence store.
var ErrRetrievalFailed = errors.New("rag retrieval failed")

// ChunkSearcher is the vector query side of the evidence store.
type ChunkSearcher interface {
	QueryTopK(ctx context.Context, tenantID string, vector []float32, k int) ([]contracts.ScoredChunk, error)
}

// Retriever returns the tenant's chunks most similar to a query vector.
type Retriever struct {
	store    ChunkSearcher
	embedder Embedder
}

// NewRetriever builds a Retriever. A nil embedder falls back to HashEmbedder.
func NewRetriever(store ChunkSearcher, embedder Embedder) *Retriever {
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	return &Retriever{store: store, embedder: embedder}
}

// Retrieve returns at most matchCount chunks ordered by descending
// similarity. matchCount <= 0 means DefaultMatchCount. A tenant with no
// chunks yields an empty slice, not an error.
func (r *Retriever) Retrieve(ctx context.Context, tenantID string, query []float32, matchCount int) ([]contracts.ScoredChunk, error) {
	if matchCount <= 0 {
		matchCount = DefaultMatchCount
	}
	chunks, err := r.store.QueryTopK(ctx, tenantID, query, matchCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
	}
	SortBySimilarity(chunks)
	if len(chunks) > matchCount {
		chunks = chunks[:matchCount]
	}
	if chunks == nil {
		chunks = []contracts.ScoredChunk{}
	}
	return chunks, nil
}

// RetrieveText embeds text and retrieves against it.
func (r *Retriever) RetrieveText(ctx context.Context, tenantID, text string, matchCount int) ([]float32, []contracts.ScoredChunk, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}
	chunks, err := r.Retrieve(ctx, tenantID, vec, matchCount)
	return vec, chunks, err
}

// SortBySimilarity orders chunks by descending similarity, keeping the
// incoming order for ties.
func SortBySimilarity(chunks []contracts.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Similarity > chunks[j].Similarity
	})
}

// RankChunks scores candidates against query in memory and returns the top k.
// Stores without a native vector index use it.
func RankChunks(query []float32, candidates []contracts.ScoredChunk, k int) []contracts.ScoredChunk {
	out := make([]contracts.ScoredChunk, len(candidates))
	for i, c := range candidates {
		c.Similarity = Cosine(query, c.Chunk.Embedding)
		out[i] = c
	}
	SortBySimilarity(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
