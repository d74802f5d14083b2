package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newRecordingProvider builds a Provider on in-memory readers instead of
// OTLP exporters.
func newRecordingProvider(t *testing.T) (*Provider, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	p := &Provider{
		config: DefaultConfig(),
		tracer: tp.Tracer("test"),
		meter:  mp.Meter("test"),
	}
	require.NoError(t, p.initInstruments())
	return p, reader, spans
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is %T", m.Name, m.Data)
	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "veridecide", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	// Instruments are nil; none of these may panic.
	ctx, done := p.TrackOperation(context.Background(), "pipeline.analyze_prompt")
	require.NotNil(t, ctx)
	done(errors.New("boom"))
	p.RecordDecision(ctx, "ALLOW", "LOW")
	p.RecordReview(ctx, "APPROVED")
	p.RecordError(ctx, errors.New("boom"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(shutdownCtx))
}

func TestSampler(t *testing.T) {
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	require.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestTrackOperationRecordsSpanAndMetrics(t *testing.T) {
	p, reader, spans := newRecordingProvider(t)
	ctx := context.Background()

	_, ok := p.TrackOperation(ctx, "pipeline.validate_claims", StageAttributes("tenant-a", "validate_claims")...)
	ok(nil)
	_, failed := p.TrackOperation(ctx, "pipeline.generate_response", StageAttributes("tenant-a", "generate_response")...)
	failed(errors.New("model unavailable"))

	ended := spans.Ended()
	require.Len(t, ended, 2)
	require.Equal(t, "pipeline.validate_claims", ended[0].Name())
	require.Equal(t, codes.Unset, ended[0].Status().Code)
	require.Equal(t, codes.Error, ended[1].Status().Code)
	require.Contains(t, ended[1].Attributes(), AttrStage.String("generate_response"))

	metrics := collect(t, reader)
	require.Equal(t, int64(2), sumOf(t, metrics["veridecide.operations.total"]))
	require.Equal(t, int64(1), sumOf(t, metrics["veridecide.errors.total"]))
	require.Equal(t, int64(0), sumOf(t, metrics["veridecide.operations.active"]))

	hist, isHist := metrics["veridecide.operation.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, isHist)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	require.Equal(t, uint64(2), count)
}

func TestRecordGovernanceOutcomes(t *testing.T) {
	p, reader, _ := newRecordingProvider(t)
	ctx := context.Background()

	p.RecordDecision(ctx, "BLOCK", "HIGH")
	p.RecordDecision(ctx, "ALLOW", "LOW")
	p.RecordDecision(ctx, "ALLOW", "LOW")
	p.RecordReview(ctx, "APPROVED")

	metrics := collect(t, reader)
	decisions := metrics["veridecide.policy.decisions"].Data.(metricdata.Sum[int64])
	byVerdict := map[string]int64{}
	for _, dp := range decisions.DataPoints {
		v, _ := dp.Attributes.Value(AttrDecision)
		byVerdict[v.AsString()] += dp.Value
	}
	require.Equal(t, map[string]int64{"BLOCK": 1, "ALLOW": 2}, byVerdict)
	require.Equal(t, int64(1), sumOf(t, metrics["veridecide.reviews"]))
}

func TestAttributeHelpers(t *testing.T) {
	stage := StageAttributes("tenant-a", "enforce_policy")
	require.Equal(t, []attribute.KeyValue{
		AttrTenantID.String("tenant-a"),
		AttrStage.String("enforce_policy"),
	}, stage)

	outcome := OutcomeAttributes("out-1", "ALLOW", "MEDIUM", "GROUNDED")
	require.Len(t, outcome, 4)
	require.Equal(t, "veridecide.risk.level", string(outcome[2].Key))
	require.Equal(t, "MEDIUM", outcome[2].Value.AsString())

	// No span in context: must not panic.
	AddSpanEvent(context.Background(), "noop", AttrOutputID.String("out-1"))
}
