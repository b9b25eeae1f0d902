package httpapi

import (
	"context"
	"strconv"

	"github.com/effective-security/xdb/pkg/flake"
)

// RequestIDHeader carries the request ID
const RequestIDHeader = "X-Request-ID"

type contextKey int

const (
	keyRequestID contextKey = iota
)

// WithRequestID returns a new context with the request ID value
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID retrieves the request ID from the context,
// it returns an empty string when not set.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(keyRequestID).(string); ok {
		return v
	}
	return ""
}

// NewRequestID generates a new request ID using the flake ID generator.
func NewRequestID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}
