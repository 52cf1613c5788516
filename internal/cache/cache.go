// Package cache provides the TTL key-value store and expiring counters
// behind geocoding and enquiry schema caching.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a TTL and maintains windowed counters.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. A zero ttl keeps the value until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// Incr increments key and returns the new count. The first increment
	// starts a window after which the counter expires.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}
