// Package pipeline runs a prompt through the governance stages: analysis,
// retrieval, generation, validation, scoring and the policy gate. Every
// stage is followed by an audit append; a run whose append fails is
// reported as unaudited rather than returning an unrecorded decision.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/veridecide/pkg/audit"
	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/governance"
	"github.com/Mindburn-Labs/veridecide/pkg/language"
	"github.com/Mindburn-Labs/veridecide/pkg/llm"
	"github.com/Mindburn-Labs/veridecide/pkg/observability"
	"github.com/Mindburn-Labs/veridecide/pkg/policyloader"
	"github.com/Mindburn-Labs/veridecide/pkg/rag"
)

var (
	// ErrInvalidInput is returned before any state is created or audited.
	ErrInvalidInput = errors.New("pipeline: invalid input")
	// ErrOpenSourceDisabled is returned when a run asks for open-source
	// evidence on a deployment that cannot ingest it.
	ErrOpenSourceDisabled = fmt.Errorf("%w: open-source ingestion is disabled", ErrInvalidInput)
	// ErrAuditIncomplete marks a run whose ledger append failed. Its
	// governance outcome, if any, was never recorded.
	ErrAuditIncomplete = errors.New("pipeline: audit trail incomplete")
)

// Stage names, in execution order.
const (
	StageSubmit     = "submit"
	StageAnalyze    = "analyze"
	StagePromptBias = "prompt_bias"
	StageOpenSource = "open_source"
	StageRetrieve   = "retrieve"
	StageGenerate   = "generate"
	StageValidate   = "validate"
	StageScore      = "score"
	StageEnforce    = "enforce"
)

// StageError reports which stage aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Store is the write side of the governance records a run produces.
type Store interface {
	CreatePrompt(ctx context.Context, p *contracts.Prompt) error
	SavePromptAnalysis(ctx context.Context, tenantID string, a *contracts.PromptAnalysis) error
	SaveBiasAnalysis(ctx context.Context, tenantID, entityType, entityID string, a *contracts.BiasAnalysis) error
	SaveRAGSession(ctx context.Context, r *contracts.RAGSession) error
	CreateOutput(ctx context.Context, o *contracts.CandidateOutput) error
	SaveModelInvocation(ctx context.Context, inv *contracts.ModelInvocation) error
	SaveCitations(ctx context.Context, citations []contracts.Citation) error
	SaveValidation(ctx context.Context, v *contracts.ValidationResult) error
	UpdateOutputScores(ctx context.Context, tenantID, outputID string, sc contracts.OutputScores) error
	SavePolicyDecision(ctx context.Context, d *contracts.PolicyDecision) error
	UpdateOutputStatus(ctx context.Context, tenantID, outputID string, status contracts.OutputStatus, governedOutput string) error
}

// Recorder appends audit events.
type Recorder interface {
	Append(ctx context.Context, req audit.AppendRequest) (*contracts.AuditEvent, error)
}

// Retriever finds evidence for a question.
type Retriever interface {
	RetrieveText(ctx context.Context, tenantID, text string, matchCount int) ([]float32, []contracts.ScoredChunk, error)
}

// OpenSourceIngester pulls web evidence into the tenant's store.
type OpenSourceIngester interface {
	OpenSourceEnabled() bool
	IngestOpenSource(ctx context.Context, tenantID, actorID, query string, maxResults int) (*contracts.IngestReport, error)
}

// Deps are the collaborators of an Orchestrator. OpenSource, Lexicon,
// Detector, Telemetry and Logger are optional.
type Deps struct {
	Store      Store
	Ledger     Recorder
	Retriever  Retriever
	Generator  llm.Generator
	Model      llm.Config
	Policies   policyloader.Source
	Engine     *governance.PolicyEngine
	OpenSource OpenSourceIngester
	Lexicon    *governance.Lexicon
	Detector   language.Detector
	Telemetry  *observability.Provider
	Logger     *slog.Logger
}

// Orchestrator runs prompts through the governance stages.
type Orchestrator struct {
	store      Store
	ledger     Recorder
	retriever  Retriever
	generator  llm.Generator
	model      llm.Config
	policies   policyloader.Source
	engine     *governance.PolicyEngine
	openSource OpenSourceIngester
	detector   language.Detector
	telemetry  *observability.Provider
	logger     *slog.Logger

	analyzer  *governance.PromptAnalyzer
	bias      *governance.BiasAnalyzer
	validator *governance.Validator
	scorer    *governance.RiskScorer

	matchCount    int
	openSourceMax int
	timeout       time.Duration
	clock         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMatchCount sets how many evidence chunks are retrieved.
func WithMatchCount(n int) Option {
	return func(o *Orchestrator) { o.matchCount = n }
}

// WithOpenSourceMaxResults caps search hits per run. Zero leaves the
// ingester's own default.
func WithOpenSourceMaxResults(n int) Option {
	return func(o *Orchestrator) { o.openSourceMax = n }
}

// WithTimeout bounds a whole run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithClock injects the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// NewOrchestrator validates d and builds an Orchestrator.
func NewOrchestrator(d Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case d.Ledger == nil:
		return nil, errors.New("pipeline: ledger is required")
	case d.Retriever == nil:
		return nil, errors.New("pipeline: retriever is required")
	case d.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case d.Policies == nil:
		return nil, errors.New("pipeline: policy source is required")
	}
	engine := d.Engine
	if engine == nil {
		var err error
		if engine, err = governance.NewPolicyEngine(); err != nil {
			return nil, err
		}
	}
	detector := d.Detector
	if detector == nil {
		detector = language.Default()
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default().With("component", "pipeline")
	}

	o := &Orchestrator{
		store:      d.Store,
		ledger:     d.Ledger,
		retriever:  d.Retriever,
		generator:  d.Generator,
		model:      d.Model,
		policies:   d.Policies,
		engine:     engine,
		openSource: d.OpenSource,
		detector:   detector,
		telemetry:  d.Telemetry,
		logger:     logger,
		analyzer:   governance.NewPromptAnalyzer(d.Lexicon),
		bias:       governance.NewBiasAnalyzer(d.Lexicon),
		validator:  governance.NewValidator(d.Lexicon, detector),
		scorer:     governance.NewRiskScorer(d.Lexicon),
		matchCount: rag.DefaultMatchCount,
		timeout:    60 * time.Second,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Input is one governance request.
type Input struct {
	TenantID        string
	ActorID         string
	PromptText      string
	Title           string
	Domain          string
	Urgency         string
	Tags            []string
	AllowUngoverned bool
	AllowOpenSource bool
	OpenSourceQuery string
}

// BiasScores are the per-stage bias scores of a run.
type BiasScores struct {
	Prompt    float64 `json:"prompt"`
	Inference float64 `json:"inference"`
}

// Result is the full governance record of a completed run.
type Result struct {
	PromptID             string                     `json:"prompt_id"`
	OutputID             string                     `json:"output_id"`
	Status               contracts.OutputStatus     `json:"status"`
	Mode                 contracts.GenerationMode   `json:"mode"`
	Language             language.Code              `json:"language"`
	Output               string                     `json:"output"`
	GovernedOutput       string                     `json:"governed_output"`
	GovernedSummary      governance.GovernedSummary `json:"governed_summary"`
	Rebuttal             governance.Rebuttal        `json:"rebuttal"`
	Analysis             contracts.PromptAnalysis   `json:"analysis"`
	Validation           contracts.ValidationResult `json:"validation"`
	Risk                 contracts.RiskAssessment   `json:"risk"`
	BiasFlags            []string                   `json:"bias_flags"`
	BiasScores           BiasScores                 `json:"bias_scores"`
	ConfidenceInternal   *float64                   `json:"confidence_internal"`
	ConfidenceOpenSource *float64                   `json:"confidence_open_source"`
	Decision             contracts.PolicyDecision   `json:"decision"`
	Citations            []contracts.Citation       `json:"citations"`
	Model                llm.ModelMetadata          `json:"model"`
	ModelFlags           []string                   `json:"model_flags,omitempty"`
	OpenSource           *contracts.IngestReport    `json:"open_source,omitempty"`
	Audit                []contracts.AuditRef       `json:"audit"`
}

// run carries state between stages.
type run struct {
	in       Input
	lang     language.Code
	now      time.Time
	res      *Result
	evidence []contracts.ScoredChunk

	promptBias    contracts.BiasAnalysis
	inferenceBias contracts.BiasAnalysis
}

type stage struct {
	name string
	fn   func(context.Context, *run) error
}

// Run executes the pipeline. Negative governance outcomes (HALLUCINATED,
// BLOCK) are successful runs; errors mean the run was aborted.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.PromptText = strings.TrimSpace(in.PromptText)
	if in.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant is required", ErrInvalidInput)
	}
	if in.PromptText == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if in.AllowOpenSource && (o.openSource == nil || !o.openSource.OpenSourceEnabled()) {
		return nil, ErrOpenSourceDisabled
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	mode := contracts.ModeGoverned
	if in.AllowUngoverned {
		mode = contracts.ModeUngoverned
	}
	r := &run{
		in:   in,
		lang: o.detector.Detect(in.PromptText),
		now:  o.clock().UTC(),
		res: &Result{
			PromptID:  uuid.NewString(),
			OutputID:  uuid.NewString(),
			Mode:      mode,
			Citations: []contracts.Citation{},
			Audit:     []contracts.AuditRef{},
		},
	}
	r.res.Language = r.lang

	stages := []stage{
		{StageSubmit, o.submit},
		{StageAnalyze, o.analyze},
		{StagePromptBias, o.analyzePromptBias},
		{StageOpenSource, o.ingestOpenSource},
		{StageRetrieve, o.retrieve},
		{StageGenerate, o.generate},
		{StageValidate, o.validate},
		{StageScore, o.score},
		{StageEnforce, o.enforce},
	}
	for _, s := range stages {
		if err := o.runStage(ctx, r, s); err != nil {
			o.recordFailure(ctx, r, err)
			return nil, err
		}
	}

	res := r.res
	enf := governance.Enforcement{Allowed: res.Decision.Decision == contracts.VerdictAllow, Reasons: res.Decision.Reasons}
	res.Rebuttal = governance.BuildRebuttal(res.Validation, enf, r.lang)
	res.GovernedSummary = governance.BuildGovernedSummary(res.Validation.Classification, enf)

	if o.telemetry != nil {
		o.telemetry.RecordDecision(ctx, string(res.Decision.Decision), string(res.Risk.Risk))
		observability.AddSpanEvent(ctx, "pipeline.completed", observability.OutcomeAttributes(
			res.OutputID, string(res.Decision.Decision), string(res.Risk.Risk), string(res.Validation.Classification))...)
	}
	o.logger.InfoContext(ctx, "pipeline completed",
		"tenant_id", in.TenantID,
		"prompt_id", res.PromptID,
		"output_id", res.OutputID,
		"mode", res.Mode,
		"classification", res.Validation.Classification,
		"decision", res.Decision.Decision,
		"status", res.Status,
	)
	return res, nil
}

func (o *Orchestrator) runStage(ctx context.Context, r *run, s stage) error {
	var done func(error)
	if o.telemetry != nil {
		ctx, done = o.telemetry.TrackOperation(ctx, "pipeline."+s.name,
			observability.StageAttributes(r.in.TenantID, s.name)...)
	}
	err := s.fn(ctx, r)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if done != nil {
		done(err)
	}
	if err != nil {
		return &StageError{Stage: s.name, Err: err}
	}
	return nil
}

// record appends one audit event and links it into the result.
func (o *Orchestrator) record(ctx context.Context, r *run, action, entityType, entityID string, payload any) error {
	evt, err := o.ledger.Append(ctx, audit.AppendRequest{
		TenantID:   r.in.TenantID,
		ActorID:    r.in.ActorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAuditIncomplete, action, err)
	}
	r.res.Audit = append(r.res.Audit, evt.Ref())
	return nil
}

// recordFailure appends PIPELINE_FAILED on a context that survives the
// caller's cancellation. Its own failure is only logged.
func (o *Orchestrator) recordFailure(ctx context.Context, r *run, cause error) {
	stageName := ""
	var se *StageError
	if errors.As(cause, &se) {
		stageName = se.Stage
	}
	o.logger.ErrorContext(ctx, "pipeline aborted",
		"tenant_id", r.in.TenantID, "prompt_id", r.res.PromptID, "stage", stageName, "error", cause)

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := o.ledger.Append(bg, audit.AppendRequest{
		TenantID:   r.in.TenantID,
		ActorID:    r.in.ActorID,
		Action:     contracts.ActionPipelineFailed,
		EntityType: contracts.EntityPrompt,
		EntityID:   r.res.PromptID,
		Payload:    map[string]any{"stage": stageName, "error": cause.Error()},
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to record pipeline failure", "tenant_id", r.in.TenantID, "error", err)
	}
}
