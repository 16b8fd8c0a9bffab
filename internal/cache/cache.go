// Package cache keeps recently generated embeddings in memory so repeated
// work on an unchanged record never re-pays a provider call. The default
// backend is a fixed-capacity LRU with a uniform TTL; an optional Redis
// level shares entries across instances.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("cache: key not found")

const (
	// DefaultMaxSize bounds the in-memory entry count.
	DefaultMaxSize = 10000
	// DefaultTTL is the uniform entry lifetime.
	DefaultTTL = time.Hour
	// sweepInterval paces the background eviction of expired entries.
	sweepInterval = 5 * time.Minute
)

// Key builds the cache key for a record/model pair.
func Key(fullName, model string) string {
	return fmt.Sprintf("%s:%s", fullName, model)
}

// EmbeddingCache is the lookup surface the worker consumes.
type EmbeddingCache interface {
	// Get returns the cached vector and producing model, or false on miss.
	Get(ctx context.Context, key string) ([]float32, string, bool)
	// Put stores a vector at the MRU position, evicting if at capacity.
	Put(ctx context.Context, key string, vector []float32, model string)
	// Stats reports occupancy and hit counters.
	Stats() Stats
	// Clear drops every entry.
	Clear()
	// Close stops background sweeping and releases resources.
	Close()
}

// Stats is a point-in-time view of cache behavior.
type Stats struct {
	Entries   int           `json:"entries"`
	MaxSize   int           `json:"max_size"`
	SizeBytes int64         `json:"size_bytes"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	TTL       time.Duration `json:"ttl"`
}
