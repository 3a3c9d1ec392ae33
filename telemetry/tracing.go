package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for pipeline spans.
const TracerName = "limebot/pipeline"

// TracingConfig selects the OTLP exporter and sampling.
type TracingConfig struct {
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT; empty disables tracing
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE, default true
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0,1], default 1
}

// TracingConfigFromEnv reads the standard OTEL_* variables. Malformed values fall back to
// the defaults.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    true,
		SampleRatio: 1,
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Insecure = b
		}
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.SampleRatio = f
		}
	}
	return cfg
}

// InitTracing installs an OTLP/gRPC tracer provider configured from the environment.
// Without OTEL_EXPORTER_OTLP_ENDPOINT it is a no-op and spans go to the global no-op
// provider. The returned func flushes and stops the exporter.
func InitTracing(serviceName, serviceVersion string) (func(), error) {
	cfg := TracingConfigFromEnv()
	if cfg.Endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set", slog.String("component", "telemetry"))
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing initialized",
		slog.String("component", "telemetry"),
		slog.String("service", serviceName),
		slog.String("endpoint", cfg.Endpoint),
		slog.Float64("sample_ratio", cfg.SampleRatio))

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shutdown tracer provider", slog.Any("err", err))
		}
	}, nil
}

// StartSpan starts a span under the pipeline tracer and tags it with the correlation id.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(TracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// StartAttemptSpan opens the root span of one capture-to-publish attempt.
func StartAttemptSpan(ctx context.Context, attempt int, runID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "pipeline.attempt",
		attribute.Int("pipeline.attempt", attempt),
		attribute.String("pipeline.run_id", runID))
}

// StartStageSpan opens a child span for one stage of an attempt.
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return StartSpan(ctx, "pipeline."+stage, attribute.String("pipeline.stage", stage))
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
