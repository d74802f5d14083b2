package governance

import (
	"strings"
	"time"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// DefaultDomain is reported when no domain keyword matches.
const DefaultDomain = "General"

// PromptAnalyzer classifies a prompt into a policy domain by keyword hits.
type PromptAnalyzer struct {
	lexicon *Lexicon
}

// NewPromptAnalyzer builds an analyzer over lex (nil means DefaultLexicon).
func NewPromptAnalyzer(lex *Lexicon) *PromptAnalyzer {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &PromptAnalyzer{lexicon: lex}
}

// Analyze picks the domain with the most keyword hits; the first domain
// wins ties. A non-blank override replaces the detected domain.
func (a *PromptAnalyzer) Analyze(text, override string) contracts.PromptAnalysis {
	detected := DefaultDomain
	best := 0
	var hits [][]string
	for _, d := range a.lexicon.Domains {
		h := d.Keywords.Hits(text)
		hits = append(hits, h)
		if len(h) > best {
			best = len(h)
			detected = d.Name
		}
	}
	if o := strings.TrimSpace(override); o != "" {
		detected = o
	}
	return contracts.PromptAnalysis{
		DetectedDomain: detected,
		KeywordHits:    Union(hits...),
		CreatedAt:      time.Now().UTC(),
	}
}
