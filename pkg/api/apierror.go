// Package api holds the HTTP plumbing shared by the veridecide surface:
// RFC 7807 problem responses, rate limiters and idempotent replay.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/veridecide/pkg/audit"
	"github.com/Mindburn-Labs/veridecide/pkg/ingest"
	"github.com/Mindburn-Labs/veridecide/pkg/pipeline"
)

// problemTypeBase prefixes the status code in ProblemDetail.Type.
const problemTypeBase = "urn:veridecide:problem:"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses must use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID is the X-Request-ID of the failed request.
	TraceID string `json:"trace_id,omitempty"`
	// Stage names the pipeline stage that failed, when one did.
	Stage string `json:"stage,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	problem.Type = problemTypeBase + strconv.Itoa(problem.Status)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{Title: title, Status: status, Detail: detail})
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteProblem maps a governance error to its HTTP status:
//
//	invalid input          400
//	unknown output         404
//	review conflict        409
//	unaudited run          500
//	failed pipeline stage  502
//
// Anything else is an internal error. Details of internal and upstream
// failures are logged, not returned.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error) {
	problem := &ProblemDetail{Instance: r.URL.Path, TraceID: w.Header().Get("X-Request-ID")}
	var stageErr *pipeline.StageError
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput), errors.Is(err, ingest.ErrInvalidInput):
		problem.Status, problem.Title, problem.Detail = http.StatusBadRequest, "Bad Request", err.Error()
	case errors.Is(err, pipeline.ErrOutputNotFound):
		problem.Status, problem.Title, problem.Detail = http.StatusNotFound, "Not Found", err.Error()
	case errors.Is(err, pipeline.ErrReviewConflict):
		problem.Status, problem.Title, problem.Detail = http.StatusConflict, "Conflict", err.Error()
	case errors.Is(err, pipeline.ErrAuditIncomplete), errors.Is(err, audit.ErrChainBroken):
		slog.Error("audit failure", "error", err, "path", r.URL.Path)
		problem.Status, problem.Title = http.StatusInternalServerError, "Audit Incomplete"
		problem.Detail = "The run could not be fully recorded in the audit ledger."
	case errors.As(err, &stageErr):
		slog.Error("pipeline stage failed", "stage", stageErr.Stage, "error", stageErr.Err, "path", r.URL.Path)
		problem.Status, problem.Title, problem.Stage = http.StatusBadGateway, "Bad Gateway", stageErr.Stage
		problem.Detail = "A governance dependency failed; the run was aborted and recorded as failed."
	default:
		WriteInternal(w, err)
		return
	}
	writeProblem(w, problem)
}
