// Package tracing configures the global OpenTelemetry tracer provider
// consumed by otelgin's request-span middleware in api.Server.
package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Setup installs a tracer provider matching exporter ("stdout" or "none")
// and returns a shutdown func to flush/close it on process exit. "none"
// leaves the global no-op provider in place, so otelgin spans are created
// and discarded with no exporter overhead.
func Setup(exporter string) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if exporter != "stdout" {
		return func(context.Context) error { return nil }, nil
	}

	tracerProvider, err := newTracerProvider()
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tracerProvider)
	return tracerProvider.Shutdown, nil
}

func newTracerProvider() (*trace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, errors.New("tracing: failed to build stdout exporter: " + err.Error())
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exp, trace.WithBatchTimeout(0)),
	), nil
}
