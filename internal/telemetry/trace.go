package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a service operation.
// This is a convenience wrapper around otel.Tracer().Start() with common patterns.
//
// Usage in services:
//
//	ctx, span := telemetry.StartSpan(ctx, "warden/services/iam", "iam.AuthenticateRequest",
//	    attribute.String("principal.name", name),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
// This is a convenience wrapper to ensure consistent error recording.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
// Use for business events like authentication failures, policy denials, etc.
//
// Example:
//
//	telemetry.AddEvent(span, "authentication.failed",
//	    attribute.String("auth.failure_cause", string(cause)),
//	)
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys for warden services
const (
	// Principal attributes
	AttrPrincipalName = "principal.name"
	AttrPrincipalKind = "principal.kind"

	// Authentication attributes
	AttrIdentityProvider = "auth.identity_provider"
	AttrFailureCause     = "auth.failure_cause"

	// API key attributes
	AttrAPIKeyPublicID = "apikey.public_id"

	// Team / permission attributes
	AttrTeamName       = "team.name"
	AttrPermissionName = "permission.name"

	// Authorization attributes
	AttrRoutePath    = "route.path"
	AttrRouteMethod  = "route.method"
	AttrRouteAllowed = "route.allowed"
)
