package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/governance"
	"github.com/Mindburn-Labs/veridecide/pkg/llm"
	"github.com/Mindburn-Labs/veridecide/pkg/rag"
)

func (o *Orchestrator) submit(ctx context.Context, r *run) error {
	p := &contracts.Prompt{
		ID:        r.res.PromptID,
		TenantID:  r.in.TenantID,
		ActorID:   r.in.ActorID,
		Text:      r.in.PromptText,
		Title:     r.in.Title,
		Domain:    r.in.Domain,
		Urgency:   r.in.Urgency,
		Tags:      r.in.Tags,
		Status:    contracts.PromptSubmitted,
		CreatedAt: r.now,
	}
	if err := o.store.CreatePrompt(ctx, p); err != nil {
		return fmt.Errorf("create prompt: %w", err)
	}
	return o.record(ctx, r, contracts.ActionPromptSubmitted, contracts.EntityPrompt, p.ID,
		map[string]any{"prompt": p.Text, "mode": r.res.Mode})
}

func (o *Orchestrator) analyze(ctx context.Context, r *run) error {
	a := o.analyzer.Analyze(r.in.PromptText, r.in.Domain)
	a.PromptID = r.res.PromptID
	a.Language = string(r.lang)
	if err := o.store.SavePromptAnalysis(ctx, r.in.TenantID, &a); err != nil {
		return fmt.Errorf("save prompt analysis: %w", err)
	}
	r.res.Analysis = a
	return o.record(ctx, r, contracts.ActionPromptAnalyzed, contracts.EntityPromptAnalysis, r.res.PromptID,
		map[string]any{"detectedDomain": a.DetectedDomain, "keywordHits": a.KeywordHits, "language": a.Language})
}

func (o *Orchestrator) analyzePromptBias(ctx context.Context, r *run) error {
	b := o.bias.AnalyzePrompt(r.in.PromptText)
	if err := o.store.SaveBiasAnalysis(ctx, r.in.TenantID, contracts.EntityPrompt, r.res.PromptID, &b); err != nil {
		return fmt.Errorf("save prompt bias: %w", err)
	}
	r.promptBias = b
	r.res.BiasScores.Prompt = b.Score
	return o.record(ctx, r, contracts.ActionPromptBiasAnalyzed, contracts.EntityPromptBias, r.res.PromptID,
		map[string]any{"score": b.Score, "flags": b.Flags})
}

// ingestOpenSource runs only when the request asked for web evidence.
func (o *Orchestrator) ingestOpenSource(ctx context.Context, r *run) error {
	if !r.in.AllowOpenSource {
		return nil
	}
	query := r.in.OpenSourceQuery
	if query == "" {
		query = r.in.PromptText
	}
	report, err := o.openSource.IngestOpenSource(ctx, r.in.TenantID, r.in.ActorID, query, o.openSourceMax)
	if err != nil {
		return fmt.Errorf("open-source ingest: %w", err)
	}
	r.res.OpenSource = report
	return o.record(ctx, r, contracts.ActionOpenSourceIngested, contracts.EntityOpenSource, r.res.PromptID, report)
}

func (o *Orchestrator) retrieve(ctx context.Context, r *run) error {
	_, chunks, err := o.retriever.RetrieveText(ctx, r.in.TenantID, r.in.PromptText, o.matchCount)
	if err != nil {
		return err
	}
	r.evidence = chunks

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.Chunk.ID
	}
	top := 0.0
	if len(chunks) > 0 {
		top = chunks[0].Similarity
	}
	sess := &contracts.RAGSession{
		ID:            uuid.NewString(),
		TenantID:      r.in.TenantID,
		PromptID:      r.res.PromptID,
		ChunkIDs:      ids,
		MatchCount:    len(chunks),
		TopSimilarity: top,
		CreatedAt:     r.now,
	}
	if err := o.store.SaveRAGSession(ctx, sess); err != nil {
		return fmt.Errorf("save rag session: %w", err)
	}
	return o.record(ctx, r, contracts.ActionRAGRetrieved, contracts.EntityRAG, sess.ID,
		map[string]any{"chunks": ids, "matchCount": sess.MatchCount, "topSimilarity": top})
}

// generate asks the model for a draft. Governed runs compose an
// evidence-only prompt and bind a citation to every retrieved chunk.
func (o *Orchestrator) generate(ctx context.Context, r *run) error {
	governed := r.res.Mode == contracts.ModeGoverned
	composed := rag.ComposeUngoverned(r.in.PromptText, r.lang)
	if governed {
		composed = rag.ComposeGoverned(r.in.PromptText, r.evidence, r.lang)
	}
	req := llm.Request{System: composed.System, Prompt: composed.Prompt}
	r.res.Model = llm.Metadata(o.model, req)

	resp, err := o.generator.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	r.res.Output = resp.Text
	r.res.ModelFlags = resp.Flags

	out := &contracts.CandidateOutput{
		ID:        r.res.OutputID,
		TenantID:  r.in.TenantID,
		PromptID:  r.res.PromptID,
		Mode:      r.res.Mode,
		Text:      resp.Text,
		Status:    contracts.OutputDraft,
		CreatedAt: r.now,
		UpdatedAt: r.now,
	}
	if err := o.store.CreateOutput(ctx, out); err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	inv := &contracts.ModelInvocation{
		ID:          uuid.NewString(),
		TenantID:    r.in.TenantID,
		OutputID:    out.ID,
		Provider:    r.res.Model.Provider,
		ModelName:   r.res.Model.ModelName,
		Version:     r.res.Model.ModelVersion,
		Parameters:  r.res.Model.Parameters,
		RequestHash: r.res.Model.RequestHash,
		CreatedAt:   r.now,
	}
	if err := o.store.SaveModelInvocation(ctx, inv); err != nil {
		return fmt.Errorf("save model invocation: %w", err)
	}

	if governed && len(r.evidence) > 0 {
		citations := make([]contracts.Citation, len(r.evidence))
		for i, c := range r.evidence {
			source := c.SourceType
			if source == "" {
				source = contracts.SourceInternal
			}
			citations[i] = contracts.Citation{
				ID:         uuid.NewString(),
				TenantID:   r.in.TenantID,
				OutputID:   out.ID,
				ChunkID:    c.Chunk.ID,
				Tag:        rag.CitationTag(i),
				SourceType: source,
				Title:      c.DocumentTitle,
				SourceURI:  c.SourceURI,
				Similarity: c.Similarity,
			}
		}
		if err := o.store.SaveCitations(ctx, citations); err != nil {
			return fmt.Errorf("save citations: %w", err)
		}
		r.res.Citations = citations
	}

	return o.record(ctx, r, contracts.ActionOutputGenerated, contracts.EntityOutput, out.ID, map[string]any{
		"length":      len(resp.Text),
		"mode":        r.res.Mode,
		"provider":    r.res.Model.Provider,
		"model":       r.res.Model.ModelName,
		"requestHash": r.res.Model.RequestHash,
		"citations":   len(r.res.Citations),
		"flags":       orEmpty(resp.Flags),
	})
}

// validate checks the draft against the retrieved evidence in both modes,
// so the ungoverned baseline is measured on the same scale.
func (o *Orchestrator) validate(ctx context.Context, r *run) error {
	texts := make([]string, len(r.evidence))
	for i, c := range r.evidence {
		texts[i] = c.Chunk.Content
	}
	v := o.validator.Validate(r.res.Output, texts)
	v.OutputID = r.res.OutputID
	v.TenantID = r.in.TenantID
	if err := o.store.SaveValidation(ctx, &v); err != nil {
		return fmt.Errorf("save validation: %w", err)
	}
	r.res.Validation = v
	return o.record(ctx, r, contracts.ActionOutputValidated, contracts.EntityValidation, r.res.OutputID, map[string]any{
		"classification": v.Classification,
		"score":          v.Score,
		"claimCount":     v.ClaimCount,
		"issueCount":     len(v.Issues),
	})
}

func (o *Orchestrator) score(ctx context.Context, r *run) error {
	r.inferenceBias = o.bias.AnalyzeInference(r.res.Output)
	if err := o.store.SaveBiasAnalysis(ctx, r.in.TenantID, contracts.EntityOutput, r.res.OutputID, &r.inferenceBias); err != nil {
		return fmt.Errorf("save inference bias: %w", err)
	}
	r.res.BiasScores.Inference = r.inferenceBias.Score

	v := r.res.Validation
	risk := o.scorer.Score(governance.ScoreInput{
		OutputText:     r.res.Output,
		EvidenceRatio:  v.Score,
		ClaimCount:     v.ClaimCount,
		IssueCount:     len(v.Issues),
		PriorBiasScore: governance.CombinedBiasScore(r.promptBias, r.inferenceBias),
	})
	flags := governance.Union(risk.BiasFlags, r.promptBias.Flags, r.inferenceBias.Flags)
	internal, openSource := governance.SourceConfidence(r.evidence)

	err := o.store.UpdateOutputScores(ctx, r.in.TenantID, r.res.OutputID, contracts.OutputScores{
		Confidence:           risk.Confidence,
		RiskLevel:            risk.Risk,
		BiasFlags:            flags,
		BiasRisk:             risk.BiasRisk,
		ConfidenceInternal:   internal,
		ConfidenceOpenSource: openSource,
	})
	if err != nil {
		return fmt.Errorf("update output scores: %w", err)
	}
	r.res.Risk = risk
	r.res.BiasFlags = flags
	r.res.ConfidenceInternal = internal
	r.res.ConfidenceOpenSource = openSource

	return o.record(ctx, r, contracts.ActionOutputScored, contracts.EntityOutput, r.res.OutputID, map[string]any{
		"confidence":           risk.Confidence,
		"risk":                 risk.Risk,
		"biasRisk":             risk.BiasRisk,
		"biasScore":            risk.BiasScore,
		"biasFlags":            flags,
		"confidenceInternal":   internal,
		"confidenceOpenSource": openSource,
	})
}

// enforce applies the tenant's active rule set (or the defaults) and moves
// the output to PENDING_REVIEW or REJECTED.
func (o *Orchestrator) enforce(ctx context.Context, r *run) error {
	rec, err := o.policies.ActivePolicy(ctx, r.in.TenantID)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	var rules *contracts.PolicyRules
	ref := "default"
	if rec != nil {
		rules = &rec.Rules
		ref = rec.ID
	}

	enf := o.engine.Enforce(rules, governance.PolicyInput{
		EvidenceRatio:  r.res.Validation.Score,
		RiskLevel:      r.res.Risk.Risk,
		Confidence:     r.res.Risk.Confidence,
		OutputText:     r.res.Output,
		Classification: r.res.Validation.Classification,
		BiasRisk:       r.res.Risk.BiasRisk,
	})

	d := &contracts.PolicyDecision{
		ID:        uuid.NewString(),
		OutputID:  r.res.OutputID,
		TenantID:  r.in.TenantID,
		Decision:  enf.Verdict(),
		Reasons:   enf.Reasons,
		RulesRef:  ref,
		CreatedAt: r.now,
	}
	if err := o.store.SavePolicyDecision(ctx, d); err != nil {
		return fmt.Errorf("save policy decision: %w", err)
	}

	status := contracts.OutputPendingReview
	governed := r.res.Output
	if !enf.Allowed {
		status = contracts.OutputRejected
		governed = governance.BlockedMessage(r.lang)
	}
	if err := o.store.UpdateOutputStatus(ctx, r.in.TenantID, r.res.OutputID, status, governed); err != nil {
		return fmt.Errorf("update output status: %w", err)
	}
	r.res.Decision = *d
	r.res.Status = status
	r.res.GovernedOutput = governed

	return o.record(ctx, r, contracts.ActionPolicyEnforced, contracts.EntityPolicyDecision, r.res.OutputID, map[string]any{
		"allowed":  enf.Allowed,
		"decision": d.Decision,
		"reasons":  enf.Reasons,
		"policyId": ref,
		"status":   status,
	})
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
