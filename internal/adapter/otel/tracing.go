package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSyncSpan opens a span covering one sync pass over a connection.
func StartSyncSpan(ctx context.Context, tool, connectionID string, direction string) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, "sync.pass",
		trace.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("connection_id", connectionID),
			attribute.String("direction", direction),
		))
}

// EndSpan closes the span, recording err as its status when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
