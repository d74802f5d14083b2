package governance

import (
	"math"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// Bias-risk tier boundaries on the combined bias score.
const (
	biasHighThreshold   = 0.5
	biasMediumThreshold = 0.25
)

// Per-hit weights of the bias score.
const (
	weightProtected      = 0.12
	weightRestriction    = 0.20
	weightGeneralization = 0.08
	weightDecision       = 0.10
)

// ScoreInput is what the risk scorer needs from earlier stages.
type ScoreInput struct {
	OutputText    string
	EvidenceRatio float64
	ClaimCount    int
	IssueCount    int
	// PriorBiasScore is the combined prompt/inference bias score.
	PriorBiasScore float64
}

// RiskScorer derives the risk tier, bias flags and confidence of an output.
type RiskScorer struct {
	lexicon *Lexicon
}

// NewRiskScorer builds a scorer over lex (nil means DefaultLexicon).
func NewRiskScorer(lex *Lexicon) *RiskScorer {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &RiskScorer{lexicon: lex}
}

// Score implements the risk and confidence rules.
func (s *RiskScorer) Score(in ScoreInput) contracts.RiskAssessment {
	risk := contracts.RiskLow
	switch {
	case s.lexicon.RiskHigh.Any(in.OutputText):
		risk = contracts.RiskHigh
	case s.lexicon.RiskMedium.Any(in.OutputText):
		risk = contracts.RiskMedium
	}

	issuePenalty := 0.0
	if in.ClaimCount > 0 {
		issuePenalty = math.Max(0, 1-float64(in.IssueCount)/float64(in.ClaimCount))
	}

	return contracts.RiskAssessment{
		Risk:       risk,
		BiasFlags:  s.lexicon.BiasFlagTerms.Hits(in.OutputText),
		Confidence: clamp01(0.7*clamp01(in.EvidenceRatio) + 0.3*issuePenalty),
		BiasRisk:   BiasRisk(in.PriorBiasScore),
		BiasScore:  in.PriorBiasScore,
	}
}

// BiasRisk maps a bias score onto a tier.
func BiasRisk(score float64) contracts.RiskLevel {
	switch {
	case score >= biasHighThreshold:
		return contracts.RiskHigh
	case score >= biasMediumThreshold:
		return contracts.RiskMedium
	default:
		return contracts.RiskLow
	}
}

// BiasAnalyzer weighs protected, restriction, generalization and decision
// cues in a text.
type BiasAnalyzer struct {
	lexicon *Lexicon
}

// NewBiasAnalyzer builds an analyzer over lex (nil means DefaultLexicon).
func NewBiasAnalyzer(lex *Lexicon) *BiasAnalyzer {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &BiasAnalyzer{lexicon: lex}
}

// AnalyzePrompt scores a prompt. Decision terms are not counted at this stage.
func (b *BiasAnalyzer) AnalyzePrompt(text string) contracts.BiasAnalysis {
	return b.analyze(text, contracts.BiasStagePrompt, nil)
}

// AnalyzeInference scores a generated output, including decision terms.
func (b *BiasAnalyzer) AnalyzeInference(text string) contracts.BiasAnalysis {
	return b.analyze(text, contracts.BiasStageInference, b.lexicon.Decision)
}

func (b *BiasAnalyzer) analyze(text string, stage contracts.BiasStage, decision TermList) contracts.BiasAnalysis {
	sig := contracts.BiasSignals{
		Stage:          stage,
		Protected:      b.lexicon.Protected.Hits(text),
		Restriction:    b.lexicon.Restriction.Hits(text),
		Generalization: b.lexicon.Generalization.Hits(text),
		Decision:       decision.Hits(text),
	}

	raw := float64(len(sig.Protected))*weightProtected +
		float64(len(sig.Restriction))*weightRestriction +
		float64(len(sig.Generalization))*weightGeneralization +
		float64(len(sig.Decision))*weightDecision

	return contracts.BiasAnalysis{
		Score:   clamp01(round3(raw)),
		Flags:   Union(sig.Protected, sig.Restriction, sig.Generalization),
		Signals: sig,
	}
}

// CombinedBiasScore is the larger of the prompt and inference scores.
func CombinedBiasScore(prompt, inference contracts.BiasAnalysis) float64 {
	return math.Max(prompt.Score, inference.Score)
}

// SourceConfidence averages retrieval similarity per provenance. A
// partition with no chunks yields nil, not zero.
func SourceConfidence(chunks []contracts.ScoredChunk) (internal, openSource *float64) {
	var sumIn, sumOpen float64
	var nIn, nOpen int
	for _, c := range chunks {
		if c.SourceType == contracts.SourceOpenSource {
			sumOpen += c.Similarity
			nOpen++
			continue
		}
		sumIn += c.Similarity
		nIn++
	}
	if nIn > 0 {
		v := sumIn / float64(nIn)
		internal = &v
	}
	if nOpen > 0 {
		v := sumOpen / float64(nOpen)
		openSource = &v
	}
	return internal, openSource
}

// Union merges lists preserving first-seen order.
func Union(lists ...[]string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, l := range lists {
		for _, s := range l {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
