package rag

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func l2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestHashEmbed_Deterministic(t *testing.T) {
	a := HashEmbed("Organizations must retain audit logs for five years.")
	b := HashEmbed("Organizations must retain audit logs for five years.")
	require.Len(t, a, Dimensions)
	assert.Equal(t, a, b)
}

func TestHashEmbed_UnitNorm(t *testing.T) {
	v := HashEmbed("audit audit retention")
	assert.InDelta(t, 1.0, l2(v), 1e-6)
}

func TestHashEmbed_NoTokensIsZeroVector(t *testing.T) {
	for _, text := range []string{"", "   ", "!!! ... ???"} {
		v := HashEmbed(text)
		require.Len(t, v, Dimensions)
		assert.Zero(t, l2(v), "text %q", text)
	}
}

func TestHashEmbed_CaseInsensitive(t *testing.T) {
	assert.Equal(t, HashEmbed("AUDIT Logs"), HashEmbed("audit logs"))
}

func TestHashEmbed_KnownBuckets(t *testing.T) {
	assert.Equal(t, 1370, bucket("apple"))
	assert.Equal(t, 262, bucket("zebra"))

	v := HashEmbed("apple")
	assert.InDelta(t, 1.0, float64(v[1370]), 1e-6)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine(HashEmbed("audit logs"), HashEmbed("logs audit")), 1e-6)
	assert.InDelta(t, 0.0, Cosine(HashEmbed("apple"), HashEmbed("zebra")), 1e-9)
	assert.Zero(t, Cosine(HashEmbed(""), HashEmbed("apple")))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 0}))
}

func TestHashEmbedder_Embed(t *testing.T) {
	v, err := HashEmbedder{}.Embed(context.Background(), "retention")
	require.NoError(t, err)
	assert.Equal(t, HashEmbed("retention"), v)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"undang", "undang", "no", "5", "2024"}, Tokenize("Undang-Undang No. 5/2024"))
}

func TestChunkText(t *testing.T) {
	assert.Nil(t, ChunkText("", 800))
	assert.Equal(t, []string{"abc", "de"}, ChunkText("abcde", 3))
	assert.Len(t, ChunkText(string(make([]rune, 1601)), 0), 3)
}
