// Package telemetry sets up logging and tracing for the binaries.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NewLogger returns a stderr logger. V(n) lines are printed when n is at
// most verbosity. OpenTelemetry reports its own errors through the same logger.
func NewLogger(name string, verbosity int) logr.Logger {
	stdr.SetVerbosity(verbosity)
	logger := stdr.NewWithOptions(log.New(os.Stderr, "", log.LstdFlags|log.LUTC), stdr.Options{
		LogCaller: stdr.Error,
	}).WithName(name)
	otel.SetLogger(logger)
	return logger
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// SetupTracing installs a tracer provider exporting to an OTLP/HTTP
// collector. Without an endpoint the global no-op provider stays in place and
// the returned shutdown does nothing.
func SetupTracing(ctx context.Context, endpoint, serviceName string, logger logr.Logger) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if endpoint == "" {
		logger.V(1).Info("tracing disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "endpoint", endpoint, "service", serviceName)

	return tp.Shutdown, nil
}
