package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attribute keys.
var (
	AttrOperation      = attribute.Key("veridecide.operation")
	AttrTenantID       = attribute.Key("veridecide.tenant.id")
	AttrStage          = attribute.Key("veridecide.pipeline.stage")
	AttrOutputID       = attribute.Key("veridecide.output.id")
	AttrDecision       = attribute.Key("veridecide.policy.decision")
	AttrRiskLevel      = attribute.Key("veridecide.risk.level")
	AttrClassification = attribute.Key("veridecide.validation.classification")
	AttrReviewDecision = attribute.Key("veridecide.review.decision")
)

// StageAttributes labels one pipeline stage of a tenant's run.
func StageAttributes(tenantID, stage string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenantID.String(tenantID),
		AttrStage.String(stage),
	}
}

// OutcomeAttributes labels the governed result of a run.
func OutcomeAttributes(outputID, decision, risk, classification string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOutputID.String(outputID),
		AttrDecision.String(decision),
		AttrRiskLevel.String(risk),
		AttrClassification.String(classification),
	}
}

// AddSpanEvent adds an event to the span in ctx, if any.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
