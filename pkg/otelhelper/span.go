package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ActionStatusKey holds the final status of an action attempt.
const ActionStatusKey = "orchestron.action.status"

// SetError marks span failed. attrs describe the failure on the recorded error event.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// SetActionStatus records how an attempt ended. Only success leaves the span status Ok.
func SetActionStatus(span trace.Span, status string) {
	span.SetAttributes(attribute.String(ActionStatusKey, status))

	if status == "success" {
		span.SetStatus(codes.Ok, "")
	}
}
