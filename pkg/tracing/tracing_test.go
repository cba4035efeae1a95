package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Ramsey-B/sage/config"
)

func TestStartSpan(t *testing.T) {
	t.Run("should be a no-op without a tracer", func(t *testing.T) {
		SetTracer(nil)
		ctx, span := StartSpan(context.Background(), "test")
		defer span.End()

		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetTraceParent(ctx))
	})

	t.Run("should carry trace ids with a tracer", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()
		SetTracer(tp.Tracer("test"))
		defer SetTracer(nil)

		ctx, span := StartSpan(context.Background(), "test")
		defer span.End()

		assert.Len(t, GetTraceID(ctx), 32)
		assert.Contains(t, GetTraceParent(ctx), GetTraceID(ctx))
		assert.Contains(t, GetTraceParent(ctx), span.SpanContext().SpanID().String())
	})
}

func TestRunSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	SetTracer(tp.Tracer("test"))
	defer SetTracer(nil)

	attrs := func(span sdktrace.ReadOnlySpan) map[string]any {
		out := map[string]any{}
		for _, kv := range span.Attributes() {
			out[string(kv.Key)] = kv.Value.AsInterface()
		}
		return out
	}

	t.Run("should name the span after the dataset and tag the run", func(t *testing.T) {
		_, span := StartRunSpan(context.Background(), "donors", "run-1", 12)
		FinishRun(span, "succeeded", nil)

		ended := recorder.Ended()
		require.NotEmpty(t, ended)
		got := ended[len(ended)-1]
		assert.Equal(t, "sage.run donors", got.Name())
		assert.Equal(t, codes.Ok, got.Status().Code)
		assert.Equal(t, map[string]any{
			"sage.dataset_key": "donors",
			"sage.run_id":      "run-1",
			"sage.run_records": int64(12),
			"sage.run_status":  "succeeded",
		}, attrs(got))
	})

	t.Run("should record a failed run", func(t *testing.T) {
		_, span := StartRunSpan(context.Background(), "donors", "run-2", 1)
		FinishRun(span, "rejected", errors.New("another run holds the dataset lock"))

		ended := recorder.Ended()
		got := ended[len(ended)-1]
		assert.Equal(t, codes.Error, got.Status().Code)
		assert.Equal(t, "another run holds the dataset lock", got.Status().Description)
		assert.Equal(t, "rejected", attrs(got)["sage.run_status"])
		require.Len(t, got.Events(), 1)
		assert.Equal(t, "exception", got.Events()[0].Name)
	})

	t.Run("should nest operation spans under the run", func(t *testing.T) {
		ctx, run := StartRunSpan(context.Background(), "donors", "run-3", 1)
		_, child := StartSpan(ctx, "identitystore.Repository.Commit", DatasetKey.String("donors"))
		child.End()
		FinishRun(run, "succeeded", nil)

		ended := recorder.Ended()
		commit := ended[len(ended)-2]
		assert.Equal(t, "identitystore.Repository.Commit", commit.Name())
		assert.Equal(t, run.SpanContext().SpanID(), commit.Parent().SpanID())
	})
}

func TestResource(t *testing.T) {
	t.Run("should carry the service and dataset", func(t *testing.T) {
		res, err := Resource(context.Background(), &config.Config{AppName: "sage-api", Version: "1.2.3", DatasetKey: "donors"})
		require.NoError(t, err)

		values := map[string]string{}
		for _, kv := range res.Attributes() {
			values[string(kv.Key)] = kv.Value.Emit()
		}
		assert.Equal(t, "sage-api", values["service.name"])
		assert.Equal(t, "1.2.3", values["service.version"])
		assert.Equal(t, "donors", values["sage.dataset_key"])
	})
}

func TestSetup(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	t.Run("should do nothing when disabled", func(t *testing.T) {
		shutdown, err := Setup(context.Background(), &config.Config{TracingExporter: "none"}, logger)
		require.NoError(t, err)
		assert.NoError(t, shutdown(context.Background()))
	})

	t.Run("should reject unknown exporters", func(t *testing.T) {
		_, err := Setup(context.Background(), &config.Config{TracingExporter: "zipkin"}, logger)
		assert.Error(t, err)
	})

	t.Run("should install the console exporter", func(t *testing.T) {
		shutdown, err := Setup(context.Background(), &config.Config{TracingExporter: "console", AppName: "sage-test"}, logger)
		require.NoError(t, err)
		defer SetTracer(nil)

		ctx, span := StartSpan(context.Background(), "test")
		assert.NotEmpty(t, GetTraceID(ctx))
		span.End()
		assert.NoError(t, shutdown(context.Background()))
	})
}
