package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/leadpilot/automation/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer(InstrumentationName)

	_, span := StartSpan(context.Background(), tracer, "walker.step", attribute.String(NodeIDKey, "tag"))
	SetError(span, protocol.Permanent(errors.New("boom")), attribute.String(NodeTypeKey, "assign_tag"))
	SetError(span, nil)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "walker.step", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String(NodeIDKey, "tag"))

	require.Len(t, spans[0].Events(), 1)
	assert.Contains(t, spans[0].Events()[0].Attributes, attribute.Bool(RetryableKey, false))
	assert.Contains(t, spans[0].Events()[0].Attributes, attribute.String(NodeTypeKey, "assign_tag"))
}

func TestTracerIsUsableWithoutSetup(t *testing.T) {
	_, span := StartSpan(context.Background(), Tracer(), "noop")
	defer span.End()

	assert.NotNil(t, span)
}

func TestExportConfigured(t *testing.T) {
	env := func(values map[string]string) func(string) string {
		return func(name string) string { return values[name] }
	}

	assert.False(t, exportConfigured(env(nil)))
	assert.True(t, exportConfigured(env(map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "http://collector:4318"})))
	assert.True(t, exportConfigured(env(map[string]string{"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT": "http://collector:4318/v1/traces"})))
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")

	shutdown, err := Setup(context.Background(), "automation-test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
