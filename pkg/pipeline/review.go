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
	"github.com/Mindburn-Labs/veridecide/pkg/store"
)

var (
	// ErrOutputNotFound is returned when the tenant has no such output.
	ErrOutputNotFound = errors.New("pipeline: output not found")
	// ErrReviewConflict is returned for drafts and already reviewed outputs.
	ErrReviewConflict = errors.New("pipeline: output cannot be reviewed")
)

// ReviewStore is what human review reads and writes.
type ReviewStore interface {
	GetOutput(ctx context.Context, tenantID, id string) (*contracts.CandidateOutput, error)
	HasReview(ctx context.Context, tenantID, outputID string) (bool, error)
	ApplyReview(ctx context.Context, r *contracts.Review) error
}

// ReviewInput is a reviewer's verdict on a gated output.
type ReviewInput struct {
	TenantID        string
	ReviewerID      string
	OutputID        string
	Decision        string
	Justification   string
	ModifiedContent string
}

// ReviewResult is the stored review and the event that recorded it.
type ReviewResult struct {
	Review contracts.Review       `json:"review"`
	Status contracts.OutputStatus `json:"status"`
	Audit  contracts.AuditRef     `json:"audit"`
}

// Reviewer applies human decisions to outputs that passed through the gate.
type Reviewer struct {
	store  ReviewStore
	ledger Recorder
	clock  func() time.Time
	logger *slog.Logger
}

// NewReviewer creates a Reviewer.
func NewReviewer(s ReviewStore, ledger Recorder) *Reviewer {
	return &Reviewer{
		store:  s,
		ledger: ledger,
		clock:  time.Now,
		logger: slog.Default().With("component", "review"),
	}
}

// Review records an APPROVED or REJECTED decision. A non-blank modified
// content becomes the final governed variant; the generated text is kept.
func (rv *Reviewer) Review(ctx context.Context, in ReviewInput) (*ReviewResult, error) {
	decision := contracts.ReviewDecision(strings.ToUpper(strings.TrimSpace(in.Decision)))
	in.OutputID = strings.TrimSpace(in.OutputID)
	if in.TenantID == "" || in.OutputID == "" || !decision.Valid() {
		return nil, fmt.Errorf("%w: review needs an output id and decision APPROVED or REJECTED", ErrInvalidInput)
	}
	modified := strings.TrimSpace(in.ModifiedContent)

	out, err := rv.store.GetOutput(ctx, in.TenantID, in.OutputID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOutputNotFound, in.OutputID)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: load output: %w", err)
	}
	if out.Status == contracts.OutputDraft {
		return nil, fmt.Errorf("%w: output %s has not passed the policy gate", ErrReviewConflict, out.ID)
	}
	done, err := rv.store.HasReview(ctx, in.TenantID, out.ID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: check review: %w", err)
	}
	if done {
		return nil, fmt.Errorf("%w: output %s already reviewed", ErrReviewConflict, out.ID)
	}

	review := &contracts.Review{
		ID:              uuid.NewString(),
		TenantID:        in.TenantID,
		OutputID:        out.ID,
		ReviewerID:      in.ReviewerID,
		Decision:        decision,
		Justification:   strings.TrimSpace(in.Justification),
		ModifiedContent: modified,
		CreatedAt:       rv.clock().UTC(),
	}
	if err := rv.store.ApplyReview(ctx, review); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: output %s already reviewed", ErrReviewConflict, out.ID)
		}
		return nil, fmt.Errorf("pipeline: apply review: %w", err)
	}

	var modifiedPayload any
	if modified != "" {
		modifiedPayload = modified
	}
	evt, err := rv.ledger.Append(ctx, audit.AppendRequest{
		TenantID:   in.TenantID,
		ActorID:    in.ReviewerID,
		Action:     contracts.ActionHumanReview,
		EntityType: contracts.EntityReview,
		EntityID:   out.ID,
		Payload: map[string]any{
			"decision":         decision,
			"justification":    review.Justification,
			"content_modified": modified != "",
			"modified_content": modifiedPayload,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAuditIncomplete, contracts.ActionHumanReview, err)
	}

	rv.logger.InfoContext(ctx, "output reviewed",
		"tenant_id", in.TenantID, "output_id", out.ID, "decision", decision, "content_modified", modified != "")
	return &ReviewResult{Review: *review, Status: contracts.OutputStatus(decision), Audit: evt.Ref()}, nil
}
