package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// ContextKey is the type for context values set by the API layer.
type ContextKey string

const (
	// UserContextKey carries the authenticated domain.User.
	UserContextKey ContextKey = "user"

	// TraceIDKey carries the per-request trace ID.
	TraceIDKey ContextKey = "traceID"

	traceIDLength = 16
)

// SetTraceID attaches a fresh trace ID to the context for correlating
// logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
}

// GetTraceID returns the trace ID from the context, or "" if unset.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

func generateTraceID() string {
	b := make([]byte, traceIDLength)
	if _, err := rand.Read(b); err != nil {
		// Extremely unlikely; a UUID still gives a usable correlation id.
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}
