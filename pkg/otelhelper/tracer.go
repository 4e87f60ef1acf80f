// Package otelhelper sets up OpenTelemetry tracing for the engine and its processes.
package otelhelper

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by the engine packages.
const InstrumentationName = "github.com/leadpilot/automation"

const (
	// Common attribute keys.
	WorkflowIDKey  = "automation.workflow.id"
	ExecutionIDKey = "automation.execution.id"
	NodeIDKey      = "automation.node.id"
	NodeTypeKey    = "automation.node.type"
	OutcomeKey     = "automation.node.outcome"
	AttemptKey     = "automation.execution.attempt"
	StatusKey      = "automation.execution.status"
	StepsKey       = "automation.tick.steps"
	EventIDKey     = "automation.event.id"
	WorkerIDKey    = "automation.worker.id"
)

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// endpointVars enable export; without one of them Setup leaves the no-op provider in place.
var endpointVars = []string{"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}

// Setup installs a global OTLP/HTTP tracer provider for serviceName when an OTLP endpoint is
// configured. The exporter reads the standard OTEL_EXPORTER_OTLP_* environment variables.
func Setup(ctx context.Context, serviceName string) (Shutdown, error) {
	if !exportConfigured(os.Getenv) {
		return func(context.Context) error { return nil }, nil
	}

	provider, err := newTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	return provider.Shutdown, nil
}

func exportConfigured(getenv func(string) string) bool {
	for _, name := range endpointVars {
		if getenv(name) != "" {
			return true
		}
	}

	return false
}

// Tracer returns the engine tracer from the global provider, a no-op until Setup ran.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}
