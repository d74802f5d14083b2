package rag

import (
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/language"
)

// ComposedPrompt is the system/user pair sent to the model.
type ComposedPrompt struct {
	System string
	Prompt string
}

// CitationTag returns the [S#] tag for the i-th (zero-based) evidence chunk.
func CitationTag(i int) string {
	return fmt.Sprintf("[S%d]", i+1)
}

// ComposeGoverned builds an evidence-only prompt that asks for [S#] citations.
func ComposeGoverned(question string, chunks []contracts.ScoredChunk, lang language.Code) ComposedPrompt {
	blocks := make([]string, len(chunks))
	for i, c := range chunks {
		blocks[i] = CitationTag(i) + " " + c.Chunk.Content
	}

	system := strings.Join([]string{
		"You are an untrusted text generator.",
		"Only use the provided evidence and cite sources using [S#] tags.",
		"If evidence is insufficient, say so.",
		"Provide a detailed, structured answer. Each paragraph must include citations.",
		language.Instruction(lang),
	}, " ")

	prompt := "Question: " + question + "\n\nEvidence:\n" + strings.Join(blocks, "\n\n") + "\n\nAnswer with citations."
	return ComposedPrompt{System: system, Prompt: prompt}
}

// ComposeUngoverned builds the baseline prompt: no evidence, no citation rules.
func ComposeUngoverned(question string, lang language.Code) ComposedPrompt {
	return ComposedPrompt{
		System: "You are a text generator. Provide a detailed answer. " + language.Instruction(lang),
		Prompt: "Question: " + question + "\n\nAnswer clearly and in detail.",
	}
}
