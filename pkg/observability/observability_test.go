package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "digitaldna", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
	require.NotNil(t, p.TracerProvider())
	require.NotNil(t, p.MeterProvider())

	// Disabled providers record nothing and must not panic.
	_, finish := p.TrackOperation(context.Background(), "dna.generate")
	finish(errors.New("boom"))
	require.NoError(t, p.Shutdown(context.Background()))
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

func sum(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range data.DataPoints {
		total += dp.Value
	}
	return total
}

func TestTrackOperation_RecordsRED(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	p, err := NewWithProviders(tp, mp)
	require.NoError(t, err)

	ctx := context.Background()
	attrs := PipelineOperation("user-1", "user", "verify")

	_, finish := p.TrackOperation(ctx, "dna.verify", attrs...)
	time.Sleep(time.Millisecond)
	finish(nil)

	_, finish = p.TrackOperation(ctx, "dna.verify", attrs...)
	finish(errors.New("verification failed"))

	metrics := collect(t, reader)
	require.Equal(t, int64(2), sum(t, metrics["dna.pipeline.requests"]))
	require.Equal(t, int64(1), sum(t, metrics["dna.pipeline.errors"]))
	require.Equal(t, int64(0), sum(t, metrics["dna.pipeline.active"]))

	hist, ok := metrics["dna.pipeline.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	require.Equal(t, uint64(2), count)

	ended := spans.Ended()
	require.Len(t, ended, 2)
	require.Equal(t, "dna.verify", ended[0].Name())
	require.Len(t, ended[1].Events(), 1)
}

func TestAttributeHelpers(t *testing.T) {
	attrs := PipelineOperation("user-1", "user", "consensus")
	require.Len(t, attrs, 3)
	require.Equal(t, "dna.entity.id", string(attrs[0].Key))
	require.Equal(t, "consensus", attrs[2].Value.AsString())

	c := ConsensusOutcome("MAJORITY", true)
	require.True(t, c[1].Value.AsBool())

	d := DecisionOutcome("ALLOW", "SAFE")
	require.Equal(t, "dna.decision", string(d[0].Key))

	g := GenerationOutcome("sha256_composite", 0.75)
	require.Equal(t, 0.75, g[1].Value.AsFloat64())

	// No span in context: helpers are no-ops.
	AddSpanEvent(context.Background(), "x")
	SetSpanAttributes(context.Background(), d...)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "entity_id", "user-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "kept", rec["msg"])
	require.Equal(t, "user-1", rec["entity_id"])

	buf.Reset()
	logger, err = NewLogger("", "text", &buf)
	require.NoError(t, err)
	logger.Info("hello")
	require.Contains(t, buf.String(), "msg=hello")

	_, err = NewLogger("loud", "text", &buf)
	require.Error(t, err)
	_, err = NewLogger("info", "xml", &buf)
	require.Error(t, err)
}
