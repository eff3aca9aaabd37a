package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type ShutdownFunc func(context.Context) error

type TracingConfig struct {
	ServiceName string
	Version     string
	Endpoint    string
	// SampleRatio applies to root spans only; children follow their parent.
	SampleRatio float64
}

// InitTracer installs the global tracer provider and the W3C trace context
// propagator. Without an endpoint a no-op provider is installed, so spans
// still carry the context extracted from Kafka headers.
func InitTracer(ctx context.Context, cfg TracingConfig) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx, exporterOptions(endpoint)...)
	if err != nil {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, err
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))}
	if cfg.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.Version)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		otel.SetTracerProvider(noop.NewTracerProvider())
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func exporterOptions(endpoint string) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithTimeout(5 * time.Second)}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return append(opts, otlptracehttp.WithEndpointURL(endpoint))
	}
	return append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func noopShutdown(context.Context) error { return nil }

func NewTraceID() (trace.TraceID, string, bool) {
	var id trace.TraceID
	if _, err := rand.Read(id[:]); err != nil {
		return trace.TraceID{}, "", false
	}
	return id, hex.EncodeToString(id[:]), true
}

func NewSpanContext(traceID trace.TraceID) (trace.SpanContext, bool) {
	return newSpanContext(traceID, false)
}

// ContextWithTraceID continues a trace whose id travelled in a message body
// rather than in headers.
func ContextWithTraceID(ctx context.Context, traceID string) (context.Context, bool) {
	parsed, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return ctx, false
	}
	spanCtx, ok := newSpanContext(parsed, true)
	if !ok {
		return ctx, false
	}
	return trace.ContextWithSpanContext(ctx, spanCtx), true
}

func newSpanContext(traceID trace.TraceID, remote bool) (trace.SpanContext, bool) {
	var spanID trace.SpanID
	if _, err := rand.Read(spanID[:]); err != nil {
		return trace.SpanContext{}, false
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     remote,
	}), true
}
