package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/veridecide/pkg/api"
	"github.com/Mindburn-Labs/veridecide/pkg/audit"
	"github.com/Mindburn-Labs/veridecide/pkg/auth"
	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
	"github.com/Mindburn-Labs/veridecide/pkg/ingest"
	"github.com/Mindburn-Labs/veridecide/pkg/observability"
	"github.com/Mindburn-Labs/veridecide/pkg/pipeline"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// pipelineRequest is the body of POST /api/v1/pipeline.
type pipelineRequest struct {
	Prompt          string   `json:"prompt"`
	Title           string   `json:"title,omitempty"`
	Domain          string   `json:"domain,omitempty"`
	Urgency         string   `json:"urgency,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	AllowUngoverned bool     `json:"allow_ungoverned,omitempty"`
	AllowOpenSource bool     `json:"allow_open_source,omitempty"`
	OpenSourceQuery string   `json:"open_source_query,omitempty"`
}

// reviewRequest is the body of POST /api/v1/reviews.
type reviewRequest struct {
	OutputID        string `json:"output_id"`
	Decision        string `json:"decision"`
	Justification   string `json:"justification,omitempty"`
	ModifiedContent string `json:"modified_content,omitempty"`
}

// documentRequest is the body of POST /api/v1/documents.
type documentRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	SourceURI string `json:"source_uri,omitempty"`
}

type outputsResponse struct {
	Outputs []contracts.CandidateOutput `json:"outputs"`
	Total   int                         `json:"total"`
}

type auditResponse struct {
	Events []contracts.AuditEvent `json:"events"`
	Total  int                    `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// decodeBody reads a single JSON object, rejecting unknown fields.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
				fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body: "+err.Error())
		return false
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "body must contain a single JSON object")
		return false
	}
	return true
}

// caller returns the tenant and actor of an authenticated request. The
// auth middleware guarantees a principal on every /api route.
func caller(r *http.Request) (tenantID, actorID string) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		return "", ""
	}
	return p.GetTenantID(), p.GetID()
}

func (s *Server) track(ctx context.Context, name, tenantID string) (context.Context, func(error)) {
	if s.deps.Telemetry == nil {
		return ctx, func(error) {}
	}
	return s.deps.Telemetry.TrackOperation(ctx, "http."+name, observability.AttrTenantID.String(tenantID))
}

func listLimit(r *http.Request) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		if v > maxListLimit {
			return maxListLimit
		}
		return v
	}
	return defaultListLimit
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	var req pipelineRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	tenantID, actorID := caller(r)
	ctx, done := s.track(r.Context(), "pipeline", tenantID)

	res, err := s.deps.Pipeline.Run(ctx, pipeline.Input{
		TenantID:        tenantID,
		ActorID:         actorID,
		PromptText:      req.Prompt,
		Title:           req.Title,
		Domain:          req.Domain,
		Urgency:         req.Urgency,
		Tags:            req.Tags,
		AllowUngoverned: req.AllowUngoverned,
		AllowOpenSource: req.AllowOpenSource,
		OpenSourceQuery: req.OpenSourceQuery,
	})
	done(err)
	if err != nil {
		api.WriteProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	var req reviewRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	tenantID, actorID := caller(r)
	ctx, done := s.track(r.Context(), "review", tenantID)

	res, err := s.deps.Reviews.Review(ctx, pipeline.ReviewInput{
		TenantID:        tenantID,
		ReviewerID:      actorID,
		OutputID:        req.OutputID,
		Decision:        req.Decision,
		Justification:   req.Justification,
		ModifiedContent: req.ModifiedContent,
	})
	done(err)
	if err != nil {
		api.WriteProblem(w, r, err)
		return
	}
	if s.deps.Telemetry != nil {
		s.deps.Telemetry.RecordReview(ctx, string(res.Review.Decision))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	var req documentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	tenantID, actorID := caller(r)
	ctx, done := s.track(r.Context(), "documents", tenantID)

	res, err := s.deps.Documents.IngestDocument(ctx, ingest.DocumentInput{
		TenantID:  tenantID,
		ActorID:   actorID,
		Title:     req.Title,
		Content:   req.Content,
		SourceURI: req.SourceURI,
	})
	done(err)
	if err != nil {
		api.WriteProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	status := contracts.OutputStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "", contracts.OutputDraft, contracts.OutputPendingReview, contracts.OutputApproved, contracts.OutputRejected:
	default:
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", fmt.Sprintf("unknown status %q", status))
		return
	}
	tenantID, _ := caller(r)
	outputs, err := s.deps.Outputs.ListOutputs(r.Context(), tenantID, status, listLimit(r))
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if outputs == nil {
		outputs = []contracts.CandidateOutput{}
	}
	writeJSON(w, http.StatusOK, outputsResponse{Outputs: outputs, Total: len(outputs)})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	tenantID, _ := caller(r)
	events, err := s.deps.Audit.List(r.Context(), tenantID, listLimit(r))
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if events == nil {
		events = []contracts.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Events: events, Total: len(events)})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	tenantID, _ := caller(r)
	report, err := s.deps.Audit.Verify(r.Context(), tenantID)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if !report.Valid {
		s.logger.WarnContext(r.Context(), "audit chain broken", "tenant_id", tenantID, "break", report.Break)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	tenantID, actorID := caller(r)
	res, err := s.deps.Audit.ExportBundle(r.Context(), s.deps.Artifacts, tenantID, actorID)
	if errors.Is(err, audit.ErrNoArtifactStore) {
		api.WriteErrorR(w, r, http.StatusServiceUnavailable, "Service Unavailable", "no artifact store is configured")
		return
	}
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		api.WriteMethodNotAllowed(w)
		return
	}
	body := map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			s.logger.ErrorContext(r.Context(), "health check failed", "error", err)
			body["status"], body["database"] = "degraded", "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}
	writeJSON(w, http.StatusOK, body)
}
