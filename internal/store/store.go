// Package store provides the durable key-value map backing task records,
// latest-event-per-task status, and cancellation flags. Values are opaque
// strings keyed by (collection, key).
package store

import (
	"context"
	"errors"
)

// Common store errors used across implementations.
var (
	// ErrUnavailable indicates the backing store connection is down.
	// Callers should treat it as retryable.
	ErrUnavailable = errors.New("store unavailable")
)

// KeyValueStore is a durable map keyed by (collection, key).
// Implementations must be safe for concurrent use.
type KeyValueStore interface {
	// Store upserts the value under (collection, key).
	Store(ctx context.Context, collection, key, value string) error

	// Retrieve returns the value under (collection, key). The second return
	// reports whether the key exists; absence is not an error.
	Retrieve(ctx context.Context, collection, key string) (string, bool, error)

	// Exists reports whether (collection, key) holds a value.
	Exists(ctx context.Context, collection, key string) (bool, error)
}
