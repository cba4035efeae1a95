// Package tracing starts the spans sage emits and reads their ids back for logs and events.
// Until Setup installs a tracer every helper is a no-op.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys sage puts on its resource and spans
const (
	DatasetKey = attribute.Key("sage.dataset_key")
	RunID      = attribute.Key("sage.run_id")
	RunStatus  = attribute.Key("sage.run_status")
	RunRecords = attribute.Key("sage.run_records")
)

var tracer trace.Tracer

// SetTracer sets the tracer StartSpan uses; nil disables tracing
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a child span named after the operation, e.g. "identity.Lookup.EntityByID"
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RunSpanName names the root span of one resolution run of a dataset
func RunSpanName(datasetKey string) string {
	return "sage.run " + datasetKey
}

// StartRunSpan starts the span covering a whole resolution run
func StartRunSpan(ctx context.Context, datasetKey, runID string, records int) (context.Context, trace.Span) {
	return StartSpan(ctx, RunSpanName(datasetKey),
		DatasetKey.String(datasetKey),
		RunID.String(runID),
		RunRecords.Int(records),
	)
}

// FinishRun records the run outcome on span and ends it
func FinishRun(span trace.Span, status string, err error) {
	span.SetAttributes(RunStatus.String(status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func activeSpan(ctx context.Context) trace.Span {
	if tracer == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return span
}

// GetTraceParent returns the W3C traceparent header for the active span, or "" when untraced
func GetTraceParent(ctx context.Context) string {
	if activeSpan(ctx) == nil {
		return ""
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get("traceparent")
}

// GetTraceID returns the trace id of the active span, or "" when untraced
func GetTraceID(ctx context.Context) string {
	span := activeSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
