// Package observability provides logging, metrics, tracing and the breaker
// guarding post-commit effects.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/fairyhunter13/psychometric-engine/internal/config"
)

// prodSampleRatio is the share of root spans kept in production.
const prodSampleRatio = 0.1

// samplerFor keeps every trace outside production. Child spans always follow
// the caller's decision.
func samplerFor(cfg config.Config) (sdktrace.Sampler, float64) {
	ratio := 1.0
	if cfg.IsProd() {
		ratio = prodSampleRatio
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), ratio
}

// SetupTracing installs the W3C propagator and, when an OTLP endpoint is
// configured, a batching tracer provider. The returned shutdown is nil when
// export is disabled.
func SetupTracing(cfg config.Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	if cfg.OTLPEndpoint == "" {
		slog.Info("OTLP endpoint not set; tracing disabled")
		return nil, nil
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("op=tracing.exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.OTELServiceName),
		semconv.DeploymentEnvironmentKey.String(cfg.AppEnv),
	))
	if err != nil {
		return nil, fmt.Errorf("op=tracing.resource: %w", err)
	}

	sampler, ratio := samplerFor(cfg)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing configured",
		slog.String("endpoint", cfg.OTLPEndpoint),
		slog.String("env", cfg.AppEnv),
		slog.Float64("sampling_ratio", ratio))
	return tp.Shutdown, nil
}
