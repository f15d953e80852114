package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	res, err := createResource(DefaultConfig())
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	providerMu.Lock()
	globalProvider = tp
	providerMu.Unlock()

	t.Cleanup(func() {
		providerMu.Lock()
		globalProvider = nil
		providerMu.Unlock()
		_ = tp.Shutdown(context.Background())
	})

	return exporter
}

func TestInitProviderDisabled(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitProvider(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
}

func TestInitProviderEnabledWithoutEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SampleRate = 0.5

	ctx := context.Background()
	shutdown, err := InitProvider(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(ctx) })

	_, span := GetTracerProvider().Tracer("test").Start(ctx, "probe")
	span.End()
}

func TestShutdownWithoutProvider(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background()))
}

func TestStartCommandSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartCommandSpan(context.Background(), "auth.login")
	RecordSuccess(span, attribute.String("role", "Admin"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "command.auth.login", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, attribute.String("command", "auth.login"))
	assert.Contains(t, spans[0].Attributes, attribute.String("role", "Admin"))
}

func TestStartSessionSpanRecordsError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartSessionSpan(context.Background(), "expire", "a1b2c3d4e5f6")
	RecordError(span, errors.New("store unavailable"))
	RecordError(span, nil)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "session.expire", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, attribute.String("credential.fingerprint", "a1b2c3d4e5f6"))
}

type failingExporter struct {
	calls int
}

func (f *failingExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	f.calls++
	return errors.New("collector unreachable")
}

func (f *failingExporter) Shutdown(context.Context) error { return nil }

func TestGuardedExporterOpensAfterRepeatedFailures(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	breaker := newCircuitBreaker()
	breaker.now = func() time.Time { return now }

	inner := &failingExporter{}
	g := &guardedExporter{exporter: inner, breaker: breaker}
	ctx := context.Background()

	for i := 0; i < breaker.failureThreshold; i++ {
		assert.Error(t, g.ExportSpans(ctx, nil))
	}
	assert.ErrorIs(t, g.ExportSpans(ctx, nil), errCircuitOpen)
	assert.Equal(t, breaker.failureThreshold, inner.calls)

	now = now.Add(breaker.resetTimeout + time.Second)
	assert.NotErrorIs(t, g.ExportSpans(ctx, nil), errCircuitOpen)
	assert.Equal(t, breaker.failureThreshold+1, inner.calls)
}
