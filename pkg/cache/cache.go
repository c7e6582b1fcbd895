// Package cache provides the key-value cache used by the genretree pipeline.
//
// The pipeline caches two artifacts, both addressed by a content hash of the
// input relation table plus the options that influence them:
//
//   - the cosine similarity matrix (the expensive O(n²·d) step)
//   - the final output record for a given root set and cutoff
//
// # Backends
//
//   - [FileCache]: one JSON file per entry under a directory (CLI default)
//   - [BadgerCache]: an embedded BadgerDB database
//   - [RedisCache]: a shared Redis instance, for teams running the tool in CI
//   - [NullCache]: caching disabled
//
// Cache failures are never fatal to a run: callers treat read errors as
// misses and ignore write errors.
package cache

import (
	"context"
	"time"
)

// Default time-to-live values per artifact type.
const (
	// TTLSimilarity is how long a similarity matrix stays cached.
	// Matrices depend only on the table content, so they can live long.
	TTLSimilarity = 7 * 24 * time.Hour

	// TTLRecord is how long an output record stays cached.
	TTLRecord = 24 * time.Hour
)

// Cache is a byte-oriented key-value store with per-entry expiration.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached data and whether the key was present.
	// A missing or expired key is a miss, not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero means no expiration.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
