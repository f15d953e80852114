package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartCommandSpan creates a span for a CLI command execution.
//
//	ctx, span := telemetry.StartCommandSpan(ctx, "auth.login")
//	defer span.End()
func StartCommandSpan(ctx context.Context, cmdName string) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer("bodega/cmd")
	ctx, span := tracer.Start(ctx, "command."+cmdName)

	span.SetAttributes(
		attribute.String("command", cmdName),
		attribute.String("component", "cli"),
	)

	return ctx, span
}

// StartSessionSpan creates a span around a session transition (mount,
// login, logout, expire). The credential itself is never attached; callers
// pass its fingerprint.
func StartSessionSpan(ctx context.Context, operation, fingerprint string) (context.Context, trace.Span) {
	tracer := GetTracerProvider().Tracer("bodega/session")
	ctx, span := tracer.Start(ctx, "session."+operation)

	span.SetAttributes(
		attribute.String("operation", operation),
		attribute.String("credential.fingerprint", fingerprint),
	)

	return ctx, span
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RoleAttribute labels a span with the session role
func RoleAttribute(role string) attribute.KeyValue {
	return attribute.String("session.role", role)
}
