package pubsub

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nfrund/parley/internal/config"
)

// TracingConfig holds configuration for OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   // Whether tracing is enabled
	ServiceName string // Service name for traces
	ZipkinURL   string // Zipkin exporter URL
}

// DefaultTracingConfig returns a default tracing configuration
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		ServiceName: "parley",
		ZipkinURL:   "http://localhost:9411/api/v2/spans",
	}
}

// TracingConfigFrom reads the tracing settings from the application config.
func TracingConfigFrom(cfg config.Provider) TracingConfig {
	tc := DefaultTracingConfig()
	tc.Enabled = cfg.GetTracingEnabled()
	if url := cfg.GetZipkinURL(); url != "" {
		tc.ZipkinURL = url
	}
	return tc
}

// SetupOTel initializes OpenTelemetry with a Zipkin exporter so event
// deliveries through the bus can be traced. If tc.Enabled is false, it
// returns a no-op tracer.
func SetupOTel(ctx context.Context, tc TracingConfig) (trace.Tracer, func(), error) {
	if !tc.Enabled {
		return noop.NewTracerProvider().Tracer("parley-pubsub"), func() {}, nil
	}

	exporter, err := zipkin.New(tc.ZipkinURL)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tc.ServiceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	tracer := tp.Tracer("parley-pubsub")

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down tracer provider", "error", err)
		}
	}

	return tracer, cleanup, nil
}
