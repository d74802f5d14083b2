package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

// CreatePrompt stores a submitted prompt.
func (s *SQLStore) CreatePrompt(ctx context.Context, p *contracts.Prompt) error {
	tags, err := marshalJSON(nonNil(p.Tags))
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO prompts (id, tenant_id, actor_id, text, title, domain, urgency, tags, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.ActorID, p.Text, p.Title, p.Domain, p.Urgency, tags, string(p.Status), s.dialect.timeArg(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert prompt: %w", err)
	}
	return nil
}

// GetPrompt returns one of the tenant's prompts.
func (s *SQLStore) GetPrompt(ctx context.Context, tenantID, id string) (*contracts.Prompt, error) {
	var (
		p       contracts.Prompt
		tags    []byte
		status  string
		created scanTime
	)
	err := s.queryRow(ctx, `SELECT id, tenant_id, actor_id, text, title, domain, urgency, tags, status, created_at FROM prompts WHERE tenant_id = ? AND id = ?`, tenantID, id).
		Scan(&p.ID, &p.TenantID, &p.ActorID, &p.Text, &p.Title, &p.Domain, &p.Urgency, &tags, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get prompt: %w", err)
	}
	if err := unmarshalJSON(tags, &p.Tags); err != nil {
		return nil, err
	}
	p.Status = contracts.PromptStatus(status)
	p.CreatedAt = created.Time
	return &p, nil
}

// SavePromptAnalysis stores the domain classification of a prompt.
func (s *SQLStore) SavePromptAnalysis(ctx context.Context, tenantID string, a *contracts.PromptAnalysis) error {
	hits, err := marshalJSON(nonNil(a.KeywordHits))
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO prompt_analyses (prompt_id, tenant_id, detected_domain, keyword_hits, language, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.PromptID, tenantID, a.DetectedDomain, hits, a.Language, s.dialect.timeArg(a.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: analysis of prompt %s", ErrAlreadyExists, a.PromptID)
	}
	if err != nil {
		return fmt.Errorf("store: insert prompt analysis: %w", err)
	}
	return nil
}

// SaveBiasAnalysis stores one bias pass over a prompt or an output.
func (s *SQLStore) SaveBiasAnalysis(ctx context.Context, tenantID, entityType, entityID string, a *contracts.BiasAnalysis) error {
	flags, err := marshalJSON(nonNil(a.Flags))
	if err != nil {
		return err
	}
	signals, err := marshalJSON(a.Signals)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO bias_analyses (id, tenant_id, entity_type, entity_id, stage, score, flags, signals, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), tenantID, entityType, entityID, string(a.Signals.Stage), a.Score, flags, signals, s.dialect.timeArg(time.Now()))
	if err != nil {
		return fmt.Errorf("store: insert bias analysis: %w", err)
	}
	return nil
}

// SaveRAGSession records what retrieval returned for a prompt.
func (s *SQLStore) SaveRAGSession(ctx context.Context, r *contracts.RAGSession) error {
	ids, err := marshalJSON(nonNil(r.ChunkIDs))
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO rag_sessions (id, tenant_id, prompt_id, chunk_ids, match_count, top_similarity, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.PromptID, ids, r.MatchCount, r.TopSimilarity, s.dialect.timeArg(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert rag session: %w", err)
	}
	return nil
}

const outputColumns = `id, tenant_id, prompt_id, mode, text, status, confidence, risk_level, bias_flags, bias_risk, confidence_internal, confidence_open_source, governed_output, reviewed_content, created_at, updated_at`

// CreateOutput stores a freshly generated candidate output.
func (s *SQLStore) CreateOutput(ctx context.Context, o *contracts.CandidateOutput) error {
	flags, err := marshalJSON(nonNil(o.BiasFlags))
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO candidate_outputs (`+outputColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.TenantID, o.PromptID, string(o.Mode), o.Text, string(o.Status), nullFloat(o.Confidence), string(o.RiskLevel), flags, string(o.BiasRisk),
		nullFloat(o.ConfidenceInternal), nullFloat(o.ConfidenceOpenSource), o.GovernedOutput, o.ReviewedContent,
		s.dialect.timeArg(o.CreatedAt), s.dialect.timeArg(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: insert output: %w", err)
	}
	return nil
}

// GetOutput returns one of the tenant's outputs.
func (s *SQLStore) GetOutput(ctx context.Context, tenantID, id string) (*contracts.CandidateOutput, error) {
	row := s.queryRow(ctx, `SELECT `+outputColumns+` FROM candidate_outputs WHERE tenant_id = ? AND id = ?`, tenantID, id)
	o, err := scanOutput(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get output: %w", err)
	}
	return o, nil
}

// ListOutputs returns the tenant's newest outputs, optionally filtered by status.
func (s *SQLStore) ListOutputs(ctx context.Context, tenantID string, status contracts.OutputStatus, limit int) ([]contracts.CandidateOutput, error) {
	q := `SELECT ` + outputColumns + ` FROM candidate_outputs WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list outputs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []contracts.CandidateOutput{}
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan output: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOutput(r rowScanner) (*contracts.CandidateOutput, error) {
	var (
		o                                  contracts.CandidateOutput
		mode, status, risk, biasRisk       string
		flags                              []byte
		confidence, confInternal, confOpen sql.NullFloat64
		created, updated                   scanTime
	)
	if err := r.Scan(&o.ID, &o.TenantID, &o.PromptID, &mode, &o.Text, &status, &confidence, &risk, &flags, &biasRisk,
		&confInternal, &confOpen, &o.GovernedOutput, &o.ReviewedContent, &created, &updated); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(flags, &o.BiasFlags); err != nil {
		return nil, err
	}
	o.Mode = contracts.GenerationMode(mode)
	o.Status = contracts.OutputStatus(status)
	o.RiskLevel = contracts.RiskLevel(risk)
	o.BiasRisk = contracts.RiskLevel(biasRisk)
	o.Confidence = floatPtr(confidence)
	o.ConfidenceInternal = floatPtr(confInternal)
	o.ConfidenceOpenSource = floatPtr(confOpen)
	o.CreatedAt = created.Time
	o.UpdatedAt = updated.Time
	return &o, nil
}

// UpdateOutputScores applies the scoring stage to an output.
func (s *SQLStore) UpdateOutputScores(ctx context.Context, tenantID, outputID string, sc contracts.OutputScores) error {
	flags, err := marshalJSON(nonNil(sc.BiasFlags))
	if err != nil {
		return err
	}
	conf := sc.Confidence
	res, err := s.exec(ctx, `UPDATE candidate_outputs SET confidence = ?, risk_level = ?, bias_flags = ?, bias_risk = ?, confidence_internal = ?, confidence_open_source = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		nullFloat(&conf), string(sc.RiskLevel), flags, string(sc.BiasRisk), nullFloat(sc.ConfidenceInternal), nullFloat(sc.ConfidenceOpenSource),
		s.dialect.timeArg(time.Now()), tenantID, outputID)
	return affectedOne(res, err, "update output scores")
}

// UpdateOutputStatus moves an output through the governance gate and
// records the text released to readers.
func (s *SQLStore) UpdateOutputStatus(ctx context.Context, tenantID, outputID string, status contracts.OutputStatus, governedOutput string) error {
	res, err := s.exec(ctx, `UPDATE candidate_outputs SET status = ?, governed_output = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		string(status), governedOutput, s.dialect.timeArg(time.Now()), tenantID, outputID)
	return affectedOne(res, err, "update output status")
}

// SaveModelInvocation records the model behind an output.
func (s *SQLStore) SaveModelInvocation(ctx context.Context, m *contracts.ModelInvocation) error {
	params, err := marshalJSON(m.Parameters)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO model_invocations (id, tenant_id, output_id, provider, model_name, model_version, parameters, request_hash, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TenantID, m.OutputID, m.Provider, m.ModelName, m.Version, params, m.RequestHash, s.dialect.timeArg(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert model invocation: %w", err)
	}
	return nil
}

// SaveCitations stores the [S#] bindings of an output.
func (s *SQLStore) SaveCitations(ctx context.Context, citations []contracts.Citation) error {
	for _, c := range citations {
		_, err := s.exec(ctx, `INSERT INTO output_citations (id, tenant_id, output_id, chunk_id, tag, source_type, title, source_uri, similarity) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.TenantID, c.OutputID, c.ChunkID, c.Tag, string(c.SourceType), c.Title, c.SourceURI, c.Similarity)
		if err != nil {
			return fmt.Errorf("store: insert citation %s: %w", c.Tag, err)
		}
	}
	return nil
}

// ListCitations returns an output's citations in tag order.
func (s *SQLStore) ListCitations(ctx context.Context, tenantID, outputID string) ([]contracts.Citation, error) {
	rows, err := s.query(ctx, `SELECT id, tenant_id, output_id, chunk_id, tag, source_type, title, source_uri, similarity FROM output_citations WHERE tenant_id = ? AND output_id = ? ORDER BY tag`, tenantID, outputID)
	if err != nil {
		return nil, fmt.Errorf("store: list citations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []contracts.Citation{}
	for rows.Next() {
		var (
			c          contracts.Citation
			sourceType string
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.OutputID, &c.ChunkID, &c.Tag, &sourceType, &c.Title, &c.SourceURI, &c.Similarity); err != nil {
			return nil, fmt.Errorf("store: scan citation: %w", err)
		}
		c.SourceType = contracts.SourceType(sourceType)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveValidation writes the output's validation result. It is immutable:
// a second write fails with ErrAlreadyExists.
func (s *SQLStore) SaveValidation(ctx context.Context, v *contracts.ValidationResult) error {
	issues, err := marshalJSON(nonNilIssues(v.Issues))
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO validation_results (output_id, tenant_id, classification, score, claim_count, issues, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.OutputID, v.TenantID, string(v.Classification), v.Score, v.ClaimCount, issues, s.dialect.timeArg(v.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: validation of output %s", ErrAlreadyExists, v.OutputID)
	}
	if err != nil {
		return fmt.Errorf("store: insert validation: %w", err)
	}
	return nil
}

// GetValidation returns the validation result of an output.
func (s *SQLStore) GetValidation(ctx context.Context, tenantID, outputID string) (*contracts.ValidationResult, error) {
	var (
		v       contracts.ValidationResult
		class   string
		issues  []byte
		created scanTime
	)
	err := s.queryRow(ctx, `SELECT output_id, tenant_id, classification, score, claim_count, issues, created_at FROM validation_results WHERE tenant_id = ? AND output_id = ?`, tenantID, outputID).
		Scan(&v.OutputID, &v.TenantID, &class, &v.Score, &v.ClaimCount, &issues, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get validation: %w", err)
	}
	if err := unmarshalJSON(issues, &v.Issues); err != nil {
		return nil, err
	}
	v.Classification = contracts.Classification(class)
	v.CreatedAt = created.Time
	return &v, nil
}

// SavePolicyDecision writes the output's gate decision. Immutable.
func (s *SQLStore) SavePolicyDecision(ctx context.Context, d *contracts.PolicyDecision) error {
	reasons, err := marshalJSON(nonNil(d.Reasons))
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO policy_decisions (output_id, id, tenant_id, decision, reasons, rules_ref, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.OutputID, d.ID, d.TenantID, string(d.Decision), reasons, d.RulesRef, s.dialect.timeArg(d.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: policy decision of output %s", ErrAlreadyExists, d.OutputID)
	}
	if err != nil {
		return fmt.Errorf("store: insert policy decision: %w", err)
	}
	return nil
}

// GetPolicyDecision returns the gate decision of an output.
func (s *SQLStore) GetPolicyDecision(ctx context.Context, tenantID, outputID string) (*contracts.PolicyDecision, error) {
	var (
		d        contracts.PolicyDecision
		decision string
		reasons  []byte
		created  scanTime
	)
	err := s.queryRow(ctx, `SELECT output_id, id, tenant_id, decision, reasons, rules_ref, created_at FROM policy_decisions WHERE tenant_id = ? AND output_id = ?`, tenantID, outputID).
		Scan(&d.OutputID, &d.ID, &d.TenantID, &decision, &reasons, &d.RulesRef, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get policy decision: %w", err)
	}
	if err := unmarshalJSON(reasons, &d.Reasons); err != nil {
		return nil, err
	}
	d.Decision = contracts.Verdict(decision)
	d.CreatedAt = created.Time
	return &d, nil
}

// ApplyReview stores a human review and moves the output to the reviewed
// status in one transaction. Reviewer-modified content replaces the
// governed output; the original text is left as generated. A second review
// of the same output fails with ErrConflict.
func (s *SQLStore) ApplyReview(ctx context.Context, r *contracts.Review) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin review: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO reviews (id, tenant_id, output_id, reviewer_id, decision, justification, modified_content, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.TenantID, r.OutputID, r.ReviewerID, string(r.Decision), r.Justification, r.ModifiedContent, s.dialect.timeArg(r.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: output %s already reviewed", ErrConflict, r.OutputID)
	}
	if err != nil {
		return fmt.Errorf("store: insert review: %w", err)
	}

	q := `UPDATE candidate_outputs SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`
	args := []any{string(r.Decision), s.dialect.timeArg(r.CreatedAt), r.TenantID, r.OutputID}
	if r.ModifiedContent != "" {
		q = `UPDATE candidate_outputs SET status = ?, updated_at = ?, governed_output = ?, reviewed_content = ? WHERE tenant_id = ? AND id = ?`
		args = []any{string(r.Decision), s.dialect.timeArg(r.CreatedAt), r.ModifiedContent, r.ModifiedContent, r.TenantID, r.OutputID}
	}
	res, err := tx.ExecContext(ctx, s.dialect.Rebind(q), args...)
	if err := affectedOne(res, err, "apply review"); err != nil {
		return err
	}
	return tx.Commit()
}

// HasReview reports whether the output was already reviewed.
func (s *SQLStore) HasReview(ctx context.Context, tenantID, outputID string) (bool, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM reviews WHERE tenant_id = ? AND output_id = ?`, tenantID, outputID).Scan(&n); err != nil {
		return false, fmt.Errorf("store: count reviews: %w", err)
	}
	return n > 0, nil
}

func affectedOne(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilIssues(v []contracts.ClaimIssue) []contracts.ClaimIssue {
	if v == nil {
		return []contracts.ClaimIssue{}
	}
	return v
}
