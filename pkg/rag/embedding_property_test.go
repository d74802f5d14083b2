//go:build property
// +build property

package rag_test

import (
	"math"
	"testing"

	"github.com/Mindburn-Labs/veridecide/pkg/rag"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestHashEmbedNorm checks that every embedding is either unit length or,
// when the text has no tokens, the zero vector.
func TestHashEmbedNorm(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("embedding is unit norm or zero", prop.ForAll(
		func(text string) bool {
			v := rag.HashEmbed(text)
			if len(v) != rag.Dimensions {
				return false
			}
			var s float64
			for _, x := range v {
				s += float64(x) * float64(x)
			}
			if len(rag.Tokenize(text)) == 0 {
				return s == 0
			}
			return math.Abs(math.Sqrt(s)-1) < 1e-5
		},
		gen.AnyString(),
	))

	properties.Property("embedding is deterministic", prop.ForAll(
		func(text string) bool {
			a, b := rag.HashEmbed(text), rag.HashEmbed(text)
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
