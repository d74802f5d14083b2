// Package server exposes the governance pipeline over HTTP.
//
// Routes:
//
//	POST /api/v1/pipeline       run a prompt through the governed pipeline
//	POST /api/v1/reviews        record a reviewer decision (reviewer role)
//	POST /api/v1/documents      ingest an internal evidence document
//	GET  /api/v1/outputs        list candidate outputs, optionally by status
//	GET  /api/v1/audit          newest audit events of the tenant
//	GET  /api/v1/audit/verify   verify the tenant's hash chain
//	POST /api/v1/audit/export   archive the chain as a bundle (admin role)
//	GET  /health                liveness and database reachability
//
// Every /api route runs behind request ids, authentication, the tenant rate
// limiter and, for POSTs, Idempotency-Key replay.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/veridecide/pkg/api"
	"github.com/Mindburn-Labs/veridecide/pkg/artifacts"
	"github.com/Mindburn-Labs/veridecide/pkg/audit"
	"github.com/Mindburn-Labs/veridecide/pkg/auth"
	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/ingest"
	"github.com/Mindburn-Labs/veridecide/pkg/observability"
	"github.com/Mindburn-Labs/veridecide/pkg/pipeline"
)

// Auth modes.
const (
	AuthJWT    = "jwt"
	AuthHeader = "header"
)

// Runner executes pipeline runs.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// ReviewService applies reviewer decisions.
type ReviewService interface {
	Review(ctx context.Context, in pipeline.ReviewInput) (*pipeline.ReviewResult, error)
}

// DocumentIngester stores evidence documents.
type DocumentIngester interface {
	IngestDocument(ctx context.Context, in ingest.DocumentInput) (*ingest.DocumentResult, error)
}

// OutputLister reads candidate outputs.
type OutputLister interface {
	ListOutputs(ctx context.Context, tenantID string, status contracts.OutputStatus, limit int) ([]contracts.CandidateOutput, error)
}

// AuditReader reads, verifies and exports the tenant chain.
type AuditReader interface {
	List(ctx context.Context, tenantID string, limit int) ([]contracts.AuditEvent, error)
	Verify(ctx context.Context, tenantID string) (audit.Report, error)
	ExportBundle(ctx context.Context, blobs artifacts.Store, tenantID, actorID string) (*audit.ExportResult, error)
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes. Pipeline, Reviews, Documents,
// Outputs and Audit are required.
type Deps struct {
	Pipeline    Runner
	Reviews     ReviewService
	Documents   DocumentIngester
	Outputs     OutputLister
	Audit       AuditReader
	Health      Pinger
	Artifacts   artifacts.Store
	Limiter     api.Limiter
	Idempotency api.IdempotencyStorer
	Telemetry   *observability.Provider
	Logger      *slog.Logger
}

// Options select the edge behaviour.
type Options struct {
	AuthMode       string
	Validator      *auth.JWTValidator
	CORSOrigins    []string
	RetryAfterSecs int
	// MaxBodyBytes bounds request bodies; documents are the largest.
	MaxBodyBytes int64
}

// Server handles the veridecide HTTP API.
type Server struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// New validates deps and builds a Server.
func New(deps Deps, opts Options) (*Server, error) {
	if deps.Pipeline == nil || deps.Reviews == nil || deps.Documents == nil || deps.Outputs == nil || deps.Audit == nil {
		return nil, errors.New("server: pipeline, reviews, documents, outputs and audit are required")
	}
	switch opts.AuthMode {
	case "", AuthJWT:
		opts.AuthMode = AuthJWT
	case AuthHeader:
	default:
		return nil, fmt.Errorf("server: unknown auth mode %q", opts.AuthMode)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "server")
	}
	return &Server{deps: deps, opts: opts, logger: logger}, nil
}

// Handler returns the full middleware chain around the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/v1/pipeline", s.handlePipeline)
	apiMux.Handle("/api/v1/reviews", auth.RequireRole(auth.RoleReviewer)(http.HandlerFunc(s.handleReview)))
	apiMux.HandleFunc("/api/v1/documents", s.handleDocuments)
	apiMux.HandleFunc("/api/v1/outputs", s.handleOutputs)
	apiMux.HandleFunc("/api/v1/audit", s.handleAudit)
	apiMux.HandleFunc("/api/v1/audit/verify", s.handleAuditVerify)
	apiMux.Handle("/api/v1/audit/export", auth.RequireRole(auth.RoleAdmin)(http.HandlerFunc(s.handleAuditExport)))

	var protected http.Handler = apiMux
	protected = api.IdempotencyMiddleware(s.deps.Idempotency, tenantScope)(protected)
	protected = auth.RateLimitMiddleware(s.deps.Limiter, s.opts.RetryAfterSecs)(protected)
	if s.opts.AuthMode == AuthHeader {
		protected = auth.HeaderMiddleware(protected)
	} else {
		protected = auth.NewMiddleware(s.opts.Validator)(protected)
	}
	mux.Handle("/api/", protected)

	var h http.Handler = mux
	h = auth.AccessLog(s.logger)(h)
	h = auth.CORSMiddleware(s.opts.CORSOrigins)(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

// HTTPServer wraps Handler with explicit timeouts. The write timeout leaves
// room for a full pipeline run.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func tenantScope(r *http.Request) string {
	tenantID, err := auth.GetTenantID(r.Context())
	if err != nil {
		return ""
	}
	return tenantID
}
