package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/tracing/exporters"
)

// Setup installs the process tracer described by cfg and returns its shutdown function.
// TRACING_EXPORTER=none leaves StartSpan as a no-op.
func Setup(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	switch cfg.TracingExporter {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "console":
		exporter = exporters.NewConsoleExporter(logger)
	case "otlp":
		otlp, err := exporters.NewOTLPExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		exporter = otlp
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s (use none, console or otlp)", cfg.TracingExporter)
	}

	res, err := Resource(ctx, cfg)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Warn("Failed to build tracing resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	SetTracer(tp.Tracer(cfg.AppName))

	logger.WithContext(ctx).WithFields(map[string]any{
		"exporter":    cfg.TracingExporter,
		"dataset_key": cfg.DatasetKey,
	}).Info("Tracing initialized")
	return tp.Shutdown, nil
}

// Resource describes this process to the collector. Every span it exports carries the dataset
// key so runs of different datasets can be told apart.
func Resource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.AppName),
			attribute.String("service.version", cfg.Version),
			DatasetKey.String(cfg.DatasetKey),
		),
	)
}
