package common

import (
	"context"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyFilename  contextKey = "filename"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithFilename tags the context with the upload filename being processed
func WithFilename(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyFilename, name)
}

// FilenameFromContext extracts the upload filename from context
func FilenameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(ContextKeyFilename).(string); ok {
		return name
	}
	return ""
}
