// Package telemetry bootstraps OpenTelemetry tracing and metrics over
// OTLP/HTTP. Adapted from the teacher's internal/observability/otel.go,
// trimmed of host-resource metrics (no standalone process to monitor here)
// and pointed at internal/config's ObsConfig instead of a bespoke struct.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"cogmem/internal/config"
)

// Shutdown stops the tracer/meter providers flushing any buffered data.
type Shutdown func(context.Context) error

// Setup configures tracing and metrics exporters when enabled, otherwise
// returns a no-op shutdown so callers can unconditionally `defer shutdown(ctx)`.
func Setup(ctx context.Context, obs config.ObsConfig) (Shutdown, error) {
	if !obs.Enabled || obs.OTLP == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(obs.ServiceName),
			semconv.ServiceVersion(obs.ServiceVersion),
			attribute.String("deployment.environment", obs.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: init resource: %w", err)
	}

	trOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(obs.OTLP)}
	mOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(obs.OTLP)}
	if obs.Insecure {
		trOpts = append(trOpts, otlptracehttp.WithInsecure())
		mOpts = append(mOpts, otlpmetrichttp.WithInsecure())
	}

	trExp, err := otlptracehttp.New(ctx, trOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: init trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(trExp),
		sdktrace.WithResource(res),
	)

	mExp, err := otlpmetrichttp.New(ctx, mOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: init metrics exporter: %w", err)
	}
	reader := metric.NewPeriodicReader(mExp, metric.WithInterval(10*time.Second))
	mp := metric.NewMeterProvider(
		metric.WithReader(reader),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		var first error
		if err := mp.Shutdown(ctx); err != nil {
			first = err
		}
		if err := tp.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
		return first
	}, nil
}

// Tracer returns the named tracer from the global provider (a no-op tracer
// before Setup runs, matching otel's own fallback behavior).
func Tracer(name string) trace.Tracer { return otel.Tracer(name) }
