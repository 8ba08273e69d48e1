package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface used by the submission and verdict services.
type Cache interface {
	BasicOps
	PipelineOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" and a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// MGet returns one entry per key, "" for missing keys.
	MGet(ctx context.Context, keys ...string) ([]string, error)

	// Set stores a key-value pair; ttl 0 means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist.
	// Returns true if the key was set.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	Del(ctx context.Context, keys ...string) error

	// Exists returns the number of keys that exist.
	Exists(ctx context.Context, keys ...string) (int64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns -1 if the key has no expiry and -2 if it does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	Incr(ctx context.Context, key string) (int64, error)
}

// PipelineOps batches commands in one round trip.
type PipelineOps interface {
	Pipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner queues commands inside Pipeline.
type Pipeliner interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Incr(key string) error
	Expire(key string, ttl time.Duration) error
	Del(keys ...string) error
}
