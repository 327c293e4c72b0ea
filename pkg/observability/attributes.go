// Package observability provides gateway-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gateway semantic convention attributes, attached to the span and RED
// metrics every dispatch.Registry.Invoke call produces.
var (
	AttrProcedure = attribute.Key("gateway.procedure")
	AttrRateClass = attribute.Key("gateway.rate_class")
	AttrActorID   = attribute.Key("gateway.actor_id")

	AttrProvider    = attribute.Key("gateway.provider")
	AttrModel       = attribute.Key("gateway.model")
	AttrCredSource  = attribute.Key("gateway.credential_source") // "byok" | "server"
	AttrTokensUsed  = attribute.Key("gateway.tokens_used")
	AttrWorkspaceID = attribute.Key("gateway.workspace_id")
)

// ProcedureCall builds the attribute set attached to a dispatch.Invoke span.
func ProcedureCall(procedure, rateClass, actorID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProcedure.String(procedure),
		AttrRateClass.String(rateClass),
		AttrActorID.String(actorID),
	}
}

// ProviderRequest builds the attribute set for a completed provider adapter call.
func ProviderRequest(provider, model, credentialSource string, tokensUsed int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProvider.String(provider),
		AttrModel.String(model),
		AttrCredSource.String(credentialSource),
		AttrTokensUsed.Int64(tokensUsed),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records an error, if any, on the current span.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
