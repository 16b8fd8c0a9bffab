// Package observability exports pipeline traces over OTLP. Tracing is off
// by default; Tracer() always returns a usable tracer either way.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/oriys/embedstar/internal/config"
	"github.com/oriys/embedstar/internal/logging"
)

type provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var global = &provider{tracer: noop.NewTracerProvider().Tracer("embedstar")}

// Init configures the global tracer from config. With tracing disabled it
// installs a no-op tracer and returns nil.
func Init(ctx context.Context, cfg config.TelemetryConfig) error {
	if !cfg.Enabled {
		global = &provider{tracer: noop.NewTracerProvider().Tracer("embedstar")}
		return nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "embedstar"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate >= 0 && cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	global = &provider{tp: tp, tracer: tp.Tracer(name), enabled: true}
	logging.Op().Info("telemetry enabled",
		"endpoint", cfg.Endpoint, "service", name, "sample_rate", cfg.SampleRate)
	return nil
}

// Shutdown flushes pending spans. No-op when tracing is disabled.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

// Tracer returns the global tracer, never nil.
func Tracer() trace.Tracer {
	return global.tracer
}

// Enabled reports whether spans are actually exported.
func Enabled() bool {
	return global.enabled
}
