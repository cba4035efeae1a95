package exporters

import (
	"context"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/sdk/trace"
)

// ConsoleExporter writes finished spans to the logger at debug level
type ConsoleExporter struct {
	logger ectologger.Logger
}

// NewConsoleExporter creates a console exporter
func NewConsoleExporter(logger ectologger.Logger) *ConsoleExporter {
	return &ConsoleExporter{logger: logger}
}

func (c *ConsoleExporter) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	for _, span := range spans {
		sc := span.SpanContext()
		fields := map[string]any{
			"span":     span.Name(),
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
			"duration": span.EndTime().Sub(span.StartTime()).String(),
		}
		if parent := span.Parent(); parent.IsValid() {
			fields["parent_span_id"] = parent.SpanID().String()
		}
		for _, kv := range span.Attributes() {
			fields[string(kv.Key)] = kv.Value.Emit()
		}
		if status := span.Status(); status.Description != "" {
			fields["status"] = status.Description
		}
		c.logger.WithContext(ctx).WithFields(fields).Debug("span")
	}
	return nil
}

func (c *ConsoleExporter) Shutdown(ctx context.Context) error {
	return nil
}
