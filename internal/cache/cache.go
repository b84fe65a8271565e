package cache

import (
	"context"
	"time"
)

// Store is the minimal key-value contract the chat cache sits on.
// Implementations must be concurrency-safe. Misses are reported as the
// typed ErrMiss so callers can tell them from transport errors.
type Store interface {
	// Get fetches the string value at key, ErrMiss when absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value with the given TTL. Zero TTL means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del removes keys and returns how many were removed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Append pushes values onto the list at key, preserving order.
	Append(ctx context.Context, key string, values ...string) error

	// GetList returns the full list at key, ErrMiss when absent or empty.
	GetList(ctx context.Context, key string) ([]string, error)

	// Expire sets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// AddSetMember / RemoveSetMember / SetMembers manage an unordered set.
	AddSetMember(ctx context.Context, key string, member string) error
	RemoveSetMember(ctx context.Context, key string, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Ping verifies connectivity with the backend.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// ErrMiss signals a cache miss in a typed way.
var ErrMiss = errMiss{}

type errMiss struct{}

func (errMiss) Error() string { return "cache: miss" }
