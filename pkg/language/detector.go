// Package language decides whether a text is Indonesian or English.
package language

import (
	"strings"
	"unicode"
)

// Code is an ISO 639-1 language code.
type Code string

const (
	Indonesian Code = "id"
	English    Code = "en"
)

// Detector decides the language of a text.
type Detector interface {
	Detect(text string) Code
}

// TokenListDetector counts whole-word hits against two fixed marker lists
// and takes the majority. Ties, including texts that match neither list,
// resolve to Primary.
type TokenListDetector struct {
	Primary   Code
	Secondary Code
	primary   map[string]struct{}
	secondary map[string]struct{}
}

var (
	indonesianMarkers = []string{
		"yang", "dan", "atau", "tidak", "untuk", "dengan", "pada", "dari",
		"sebagai", "adalah", "harus", "akan", "bisa", "dapat", "kebijakan",
		"aturan", "keputusan", "peraturan", "undang-undang",
	}
	englishMarkers = []string{
		"the", "and", "or", "not", "for", "with", "from", "as", "is",
		"must", "should", "policy", "rule", "decision", "regulation", "law",
	}
)

// NewTokenListDetector builds a detector over the given marker lists.
func NewTokenListDetector(primary Code, primaryMarkers []string, secondary Code, secondaryMarkers []string) *TokenListDetector {
	return &TokenListDetector{
		Primary:   primary,
		Secondary: secondary,
		primary:   toSet(primaryMarkers),
		secondary: toSet(secondaryMarkers),
	}
}

// Default returns the Indonesian/English detector used by the pipeline.
func Default() *TokenListDetector {
	return NewTokenListDetector(Indonesian, indonesianMarkers, English, englishMarkers)
}

// Detect implements Detector.
func (d *TokenListDetector) Detect(text string) Code {
	var p, s int
	for _, tok := range words(text) {
		if _, ok := d.primary[tok]; ok {
			p++
		}
		if _, ok := d.secondary[tok]; ok {
			s++
		}
	}
	if s > p {
		return d.Secondary
	}
	return d.Primary
}

// Instruction returns the answer-language directive for a system prompt.
func Instruction(c Code) string {
	if c == English {
		return "Answer in English."
	}
	return "Jawab dalam Bahasa Indonesia."
}

// words lowercases text and splits it on anything that is not a letter,
// digit or hyphen, so "undang-undang" survives as one token.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}

func toSet(list []string) map[string]struct{} {
	m := make(map[string]struct{}, len(list))
	for _, w := range list {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
