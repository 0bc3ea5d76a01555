package utils

import (
	"context"
)

type contextKey string

const (
	ContextRequestIDKey contextKey = "requestID"
	ContextDeviceIDKey  contextKey = "deviceID"
	ContextAPIKeyIDKey  contextKey = "apiKeyID"
)

func GetRequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextRequestIDKey).(string)
	return id, ok
}

// GetDeviceIDFromContext returns the opaque X-Anon-Id value, if the request
// carried a valid one.
func GetDeviceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextDeviceIDKey).(string)
	return id, ok
}

func GetAPIKeyIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextAPIKeyIDKey).(string)
	return id, ok
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextRequestIDKey, id)
}

func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextDeviceIDKey, id)
}

func WithAPIKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextAPIKeyIDKey, id)
}
