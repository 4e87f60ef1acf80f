package otelhelper

import (
	"github.com/leadpilot/automation/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RetryableKey tells whether a recorded error may be retried.
const RetryableKey = "automation.error.retryable"

// SetError marks span as failed and records err with attrs. A nil err is ignored.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	attrs = append(attrs, attribute.Bool(RetryableKey, protocol.IsRetryable(err)))

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}
