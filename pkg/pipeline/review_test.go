package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veridecide/pkg/contracts"
)

func reviewedRun(t *testing.T) (harness, *Result) {
	t.Helper()
	h := newHarness(t, &fixedGenerator{text: "Organizations must retain audit logs for five years [S1]."}, nil)
	res, err := h.orch.Run(context.Background(), Input{TenantID: tenant, PromptText: question})
	require.NoError(t, err)
	require.Equal(t, contracts.OutputPendingReview, res.Status)
	return h, res
}

func TestReviewApprovesWithEdit(t *testing.T) {
	h, res := reviewedRun(t)
	rv := NewReviewer(h.store, h.ledger)

	got, err := rv.Review(context.Background(), ReviewInput{
		TenantID:        tenant,
		ReviewerID:      "reviewer-1",
		OutputID:        res.OutputID,
		Decision:        "approved",
		Justification:   " Matches the retention rule. ",
		ModifiedContent: "Audit logs are retained for five years [S1].",
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.OutputApproved, got.Status)
	assert.Equal(t, contracts.ActionHumanReview, got.Audit.Action)
	assert.Equal(t, "Matches the retention rule.", got.Review.Justification)

	out, err := h.store.GetOutput(context.Background(), tenant, res.OutputID)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutputApproved, out.Status)
	assert.Equal(t, "Audit logs are retained for five years [S1].", out.GovernedOutput)
	assert.Equal(t, res.Output, out.Text, "the generated text is never edited")

	events, err := h.store.ListEvents(context.Background(), tenant)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, contracts.ActionHumanReview, last.Action)
	assert.Equal(t, "reviewer-1", last.ActorID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Equal(t, map[string]any{
		"decision":         "APPROVED",
		"justification":    "Matches the retention rule.",
		"content_modified": true,
		"modified_content": "Audit logs are retained for five years [S1].",
	}, payload)
}

func TestReviewRejectWithoutEdit(t *testing.T) {
	h, res := reviewedRun(t)
	rv := NewReviewer(h.store, h.ledger)

	got, err := rv.Review(context.Background(), ReviewInput{TenantID: tenant, OutputID: res.OutputID, Decision: "REJECTED"})
	require.NoError(t, err)
	assert.Equal(t, contracts.OutputRejected, got.Status)

	events, err := h.store.ListEvents(context.Background(), tenant)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[len(events)-1].Payload, &payload))
	assert.Equal(t, false, payload["content_modified"])
	assert.Nil(t, payload["modified_content"])
}

func TestReviewErrors(t *testing.T) {
	h, res := reviewedRun(t)
	rv := NewReviewer(h.store, h.ledger)
	ctx := context.Background()

	_, err := rv.Review(ctx, ReviewInput{TenantID: tenant, OutputID: res.OutputID, Decision: "MAYBE"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = rv.Review(ctx, ReviewInput{TenantID: tenant, Decision: "APPROVED"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = rv.Review(ctx, ReviewInput{TenantID: tenant, OutputID: "missing", Decision: "APPROVED"})
	assert.ErrorIs(t, err, ErrOutputNotFound)
	_, err = rv.Review(ctx, ReviewInput{TenantID: "tenant-b", OutputID: res.OutputID, Decision: "APPROVED"})
	assert.ErrorIs(t, err, ErrOutputNotFound, "outputs are tenant scoped")

	_, err = rv.Review(ctx, ReviewInput{TenantID: tenant, OutputID: res.OutputID, Decision: "APPROVED"})
	require.NoError(t, err)
	_, err = rv.Review(ctx, ReviewInput{TenantID: tenant, OutputID: res.OutputID, Decision: "REJECTED"})
	assert.ErrorIs(t, err, ErrReviewConflict)
}

func TestReviewRefusesDrafts(t *testing.T) {
	h, _ := reviewedRun(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, h.store.CreatePrompt(ctx, &contracts.Prompt{ID: "p-draft", TenantID: tenant, Text: "q", CreatedAt: now}))
	require.NoError(t, h.store.CreateOutput(ctx, &contracts.CandidateOutput{
		ID: "o-draft", TenantID: tenant, PromptID: "p-draft", Text: "t", Status: contracts.OutputDraft, CreatedAt: now,
	}))

	_, err := NewReviewer(h.store, h.ledger).Review(ctx, ReviewInput{TenantID: tenant, OutputID: "o-draft", Decision: "APPROVED"})
	assert.ErrorIs(t, err, ErrReviewConflict)
}
