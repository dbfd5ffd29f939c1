package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/colorfulnotion/blockexec/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/colorfulnotion/blockexec"

// Tracer returns the tracer of the globally installed provider; it is a no-op until
// InitTracing or otel.SetTracerProvider runs.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span carrying attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err, if any, on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// InitTracing installs an OTLP/HTTP exporting provider. It returns a shutdown func
// that flushes pending spans.
func InitTracing(ctx context.Context, endpoint string, sampleRatio float64) (func(context.Context) error, error) {
	if sampleRatio < 0 || sampleRatio > 1 {
		return nil, fmt.Errorf("invalid sample ratio: %f", sampleRatio)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid tracing endpoint URL: %w", err)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(u.Host)}
	switch u.Scheme {
	case "http":
		opts = append(opts, otlptracehttp.WithInsecure())
	case "https":
	default:
		return nil, fmt.Errorf("unsupported tracing url scheme: %s", u.Scheme)
	}
	if u.Path != "" && u.Path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(u.Path))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "blockexec"))),
	)
	otel.SetTracerProvider(provider)
	log.Info(log.ExecMonitoring, "Tracing enabled", "endpoint", endpoint, "sampleRatio", sampleRatio)
	return provider.Shutdown, nil
}
