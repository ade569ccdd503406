package persist

import (
	"context"
)

// Store is the key-value shape the three session-record backends
// (MemoryStore, PebbleStore, RedisStore) all implement. session.Record
// is its only real instantiation in this broker, keyed by client id;
// generic over T so the Pebble/Redis wire format lives here once instead of being duplicated per backend.
type Store[T any] interface {
	Reader[T]
	Metrics

	// Save stores or updates a value by key
	Save(ctx context.Context, key string, value T) error

	// Delete removes a value by key
	Delete(ctx context.Context, key string) error

	// Close closes the store
	Close() error
}

type Reader[T any] interface {
	// Load retrieves a value by key
	Load(ctx context.Context, key string) (T, error)

	// Exists checks if a key exists
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys
	List(ctx context.Context) ([]string, error)
}

// Metrics provides metrics about the store
type Metrics interface {
	// Count returns the total number of items
	Count(ctx context.Context) (int64, error)
}
