package governance

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/language"
)

// ReasonInsufficientOverlap is recorded for every unsupported claim.
const ReasonInsufficientOverlap = "insufficient evidence overlap"

// Classification boundaries on the support score.
const (
	GroundedThreshold = 0.8
	PartialThreshold  = 0.4
)

// Overlap thresholds. Claims with more than longClaimTokens normalized
// tokens need more coverage; a language mismatch between claim and chunk
// relaxes the bar, never below minOverlapThreshold.
const (
	minClaimTokens        = 3
	longClaimTokens       = 6
	shortClaimThreshold   = 0.20
	longClaimThreshold    = 0.25
	crossLanguageDiscount = 0.05
	minOverlapThreshold   = 0.15
	overlapEpsilon        = 1e-9
)

var (
	claimSplit     = regexp.MustCompile(`[\n.!?]+`)
	citationTag    = regexp.MustCompile(`(?i)\[S\d+\]`)
	nonTokenChars  = regexp.MustCompile(`[^a-z0-9\s-]`)
	diacriticFolds = runes.Remove(runes.In(unicode.Mn))
)

// Validator checks a candidate answer claim by claim against evidence text
// using lexical token overlap.
type Validator struct {
	lexicon   *Lexicon
	detector  language.Detector
	stopwords map[string]struct{}
}

// NewValidator builds a Validator. Nil arguments fall back to the defaults.
func NewValidator(lex *Lexicon, detector language.Detector) *Validator {
	if lex == nil {
		lex = DefaultLexicon()
	}
	if detector == nil {
		detector = language.Default()
	}
	stop := make(map[string]struct{}, len(lex.Stopwords))
	for _, w := range lex.Stopwords {
		stop[strings.ToLower(w)] = struct{}{}
	}
	return &Validator{lexicon: lex, detector: detector, stopwords: stop}
}

type evidenceTokens struct {
	set  map[string]struct{}
	lang language.Code
}

// Validate splits candidate into claims and classifies the answer by the
// share of considered claims that some evidence chunk supports.
func (v *Validator) Validate(candidate string, evidence []string) contracts.ValidationResult {
	chunks := make([]evidenceTokens, 0, len(evidence))
	for _, text := range evidence {
		toks := v.NormalizeTokens(text)
		if len(toks) == 0 {
			continue
		}
		chunks = append(chunks, evidenceTokens{set: toSet(toks), lang: v.detector.Detect(text)})
	}

	var considered, supported int
	issues := []contracts.ClaimIssue{}

	for _, claim := range SplitClaims(candidate) {
		toks := v.NormalizeTokens(claim)
		if len(toks) < minClaimTokens {
			continue
		}
		considered++

		claimSet := toSet(toks)
		claimLang := v.detector.Detect(claim)
		ok := false
		for _, c := range chunks {
			if overlap(claimSet, c.set)+overlapEpsilon >= threshold(len(toks), claimLang != c.lang) {
				ok = true
				break
			}
		}
		if ok {
			supported++
			continue
		}
		issues = append(issues, contracts.ClaimIssue{Claim: claim, Reason: ReasonInsufficientOverlap})
	}

	score := 0.0
	if considered > 0 {
		score = float64(supported) / float64(considered)
	}

	return contracts.ValidationResult{
		Classification: Classify(score),
		Score:          score,
		ClaimCount:     considered,
		Issues:         issues,
		CreatedAt:      time.Now().UTC(),
	}
}

// Classify maps a support score onto the three grounding classes.
func Classify(score float64) contracts.Classification {
	switch {
	case score >= GroundedThreshold:
		return contracts.Grounded
	case score >= PartialThreshold:
		return contracts.PartiallySupported
	default:
		return contracts.Hallucinated
	}
}

// SplitClaims breaks text on newlines and sentence terminators.
func SplitClaims(text string) []string {
	var claims []string
	for _, part := range claimSplit.Split(text, -1) {
		if c := strings.TrimSpace(part); c != "" {
			claims = append(claims, c)
		}
	}
	return claims
}

// NormalizeTokens reduces text to comparable tokens: citation tags and
// punctuation removed, diacritics folded, hyphens collapsed, trailing "s"
// dropped on tokens longer than three characters, stop-words removed and
// synonyms mapped through the canonical table. Duplicates are kept.
func (v *Validator) NormalizeTokens(text string) []string {
	text = citationTag.ReplaceAllString(text, " ")
	text = foldDiacritics(strings.ToLower(text))
	text = nonTokenChars.ReplaceAllString(text, " ")

	var out []string
	for _, tok := range strings.Fields(text) {
		tok = strings.ReplaceAll(tok, "-", "")
		if len(tok) > 3 && strings.HasSuffix(tok, "s") {
			tok = tok[:len(tok)-1]
		}
		if len(tok) <= 1 {
			continue
		}
		if _, stop := v.stopwords[tok]; stop {
			continue
		}
		out = append(out, v.lexicon.Canonical.Canonical(tok))
	}
	return out
}

func threshold(tokenCount int, crossLanguage bool) float64 {
	t := shortClaimThreshold
	if tokenCount > longClaimTokens {
		t = longClaimThreshold
	}
	if crossLanguage {
		t -= crossLanguageDiscount
	}
	if t < minOverlapThreshold {
		t = minOverlapThreshold
	}
	return t
}

// overlap is |claim ∩ chunk| / |claim|. The claim set is the denominator so
// full coverage of a short claim scores 1 regardless of chunk length.
func overlap(claim, chunk map[string]struct{}) float64 {
	if len(claim) == 0 {
		return 0
	}
	var shared int
	for tok := range claim {
		if _, ok := chunk[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(claim))
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, diacriticFolds, norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func toSet(toks []string) map[string]struct{} {
	m := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		m[t] = struct{}{}
	}
	return m
}
