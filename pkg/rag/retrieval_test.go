package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	chunks []contracts.ScoredChunk
	err    error
	gotK   int
}

func (f *fakeSearcher) QueryTopK(_ context.Context, _ string, _ []float32, k int) ([]contracts.ScoredChunk, error) {
	f.gotK = k
	return f.chunks, f.err
}

func scored(id string, sim float64) contracts.ScoredChunk {
	return contracts.ScoredChunk{Chunk: contracts.EvidenceChunk{ID: id}, Similarity: sim}
}

func TestRetrieve_SortsAndTruncates(t *testing.T) {
	s := &fakeSearcher{chunks: []contracts.ScoredChunk{
		scored("a", 0.1), scored("b", 0.9), scored("c", 0.5),
	}}
	r := NewRetriever(s, nil)

	got, err := r.Retrieve(context.Background(), "t1", HashEmbed("q"), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Chunk.ID)
	assert.Equal(t, "c", got[1].Chunk.ID)
	assert.Equal(t, 2, s.gotK)
}

func TestRetrieve_DefaultMatchCount(t *testing.T) {
	s := &fakeSearcher{}
	r := NewRetriever(s, nil)

	got, err := r.Retrieve(context.Background(), "t1", HashEmbed("q"), 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, DefaultMatchCount, s.gotK)
}

func TestRetrieve_StoreFailure(t *testing.T) {
	r := NewRetriever(&fakeSearcher{err: errors.New("connection refused")}, nil)

	_, err := r.Retrieve(context.Background(), "t1", HashEmbed("q"), 6)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalFailed)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRankChunks(t *testing.T) {
	mk := func(id, text string) contracts.ScoredChunk {
		return contracts.ScoredChunk{Chunk: contracts.EvidenceChunk{ID: id, Embedding: HashEmbed(text)}}
	}
	candidates := []contracts.ScoredChunk{
		mk("fruit", "apple apple"),
		mk("audit", "audit logs retention"),
		mk("empty", ""),
	}

	got := RankChunks(HashEmbed("audit retention"), candidates, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "audit", got[0].Chunk.ID)
	assert.Greater(t, got[0].Similarity, 0.8)
}
