// Package rag holds the retrieval half of the pipeline: a deterministic hash
// embedder, top-K evidence ranking, document chunking and prompt composition.
package rag

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Dimensions is the fixed width of every embedding vector. It matches the
// vector(1536) column of the evidence_chunks table.
const Dimensions = 1536

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HashEmbedder is a bag-of-tokens feature hasher. Each lowercase
// alphanumeric token is hashed into one of Dimensions buckets and the
// resulting count vector is L2-normalized.
//
// It is a cheap, deterministic stand-in for a learned embedding model:
// texts with disjoint vocabularies are near-orthogonal, but synonyms and
// paraphrases score zero. Swapping in a real model only requires another
// Embedder with the same dimensionality; chunks already stored must then
// be re-embedded.
type HashEmbedder struct{}

// Embed implements Embedder. It never fails.
func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return HashEmbed(text), nil
}

// HashEmbed is the pure form of HashEmbedder.Embed.
func HashEmbed(text string) []float32 {
	counts := make([]float64, Dimensions)
	for _, tok := range Tokenize(text) {
		counts[bucket(tok)]++
	}

	var sum float64
	for _, c := range counts {
		sum += c * c
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		norm = 1
	}

	vec := make([]float32, Dimensions)
	for i, c := range counts {
		vec[i] = float32(c / norm)
	}
	return vec
}

// Tokenize lowercases text and splits it into runs of letters and digits.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// bucket folds a signed 32-bit rolling hash (h*31 + c) to unsigned and
// reduces it modulo Dimensions.
func bucket(tok string) int {
	var h int32
	for _, r := range tok {
		h = (h << 5) - h + int32(r)
	}
	u := int64(h)
	if u < 0 {
		u = -u
	}
	return int(u % Dimensions)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
