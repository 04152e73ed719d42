// Package otel wires opt-in OpenTelemetry tracing for the runtimes.
package otel

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type tracingEnv struct {
	Endpoint string `env:"DIVERGENCE_SPACE_OTEL_ENDPOINT"`
	Enabled  string `env:"DIVERGENCE_SPACE_OTEL_ENABLED"`
}

// Setup initialises tracing for the given service and returns a shutdown
// function that flushes pending spans.
//
// Tracing is opt-in: with no DIVERGENCE_SPACE_OTEL_ENDPOINT, or with
// DIVERGENCE_SPACE_OTEL_ENABLED set to "false", Setup registers nothing and
// the returned shutdown is a no-op.
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var cfg tracingEnv
	if err := env.Parse(&cfg); err != nil {
		return noop, fmt.Errorf("parse tracing env: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Enabled), "false") {
		return noop, nil
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return provider.Shutdown, nil
}

// Enabled reports whether tracing would be configured with the current
// environment.
func Enabled() bool {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("DIVERGENCE_SPACE_OTEL_ENABLED")), "false") {
		return false
	}
	return strings.TrimSpace(os.Getenv("DIVERGENCE_SPACE_OTEL_ENDPOINT")) != ""
}
