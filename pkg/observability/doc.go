// Package observability wires OpenTelemetry tracing and metrics for
// veridecide.
//
// Initialize at startup and shut down on exit:
//
//	tp, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "veridecide",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1,
//		Enabled:      true,
//	})
//	defer tp.Shutdown(ctx)
//
// Wrap an operation with a span and RED metrics:
//
//	ctx, done := tp.TrackOperation(ctx, "pipeline.generate_response",
//		observability.StageAttributes(tenantID, "generate_response")...)
//	err := generate(ctx)
//	done(err)
//
// Governance outcomes have their own counters:
//
//	tp.RecordDecision(ctx, "BLOCK", "HIGH")
//	tp.RecordReview(ctx, "APPROVED")
package observability
