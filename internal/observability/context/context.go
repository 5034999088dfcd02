// Package context carries request-scoped correlation values used by logging and tracing.
package context

import "context"

type requestIDKey struct{}
type provisioningIDKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

func WithProvisioningID(ctx context.Context, provisioningID string) context.Context {
	if provisioningID == "" {
		return ctx
	}
	return context.WithValue(ctx, provisioningIDKey{}, provisioningID)
}

func ProvisioningIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(provisioningIDKey{}).(string); ok {
		return v
	}
	return ""
}
