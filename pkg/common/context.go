package common

import (
	"context"
)

// ContextKey is the type used for request-scoped context values
type ContextKey string

const (
	ContextKeyUserID    ContextKey = "user_id"
	ContextKeyRequestID ContextKey = "request_id"
)

// WithUserID adds the authenticated user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

// GetUserID extracts the authenticated user ID from the context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(ContextKeyUserID).(string)
	return userID, ok && userID != ""
}

// WithRequestID adds the request correlation ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// GetRequestID extracts the request correlation ID from the context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(ContextKeyRequestID).(string)
	return requestID, ok && requestID != ""
}

// EventMetadata collects the request-scoped values worth stamping onto
// persisted events, so stored history carries who and which request
// produced it.
func EventMetadata(ctx context.Context) map[string]string {
	meta := make(map[string]string, 2)
	if userID, ok := GetUserID(ctx); ok {
		meta["user_id"] = userID
	}
	if requestID, ok := GetRequestID(ctx); ok {
		meta["request_id"] = requestID
	}
	return meta
}
