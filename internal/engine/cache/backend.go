package cache

import (
	"context"
	"errors"
	"time"
)

// Backend names accepted by NewBackend.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendDatabase = "database"
	BackendMemory   = "memory"
	BackendNoop     = "none"
)

// Common cache errors.
var (
	ErrCacheNotFound   = errors.New("cache entry not found")
	ErrInvalidCacheKey = errors.New("cache key cannot be empty")

	// ErrBackendUnavailable marks connection failures and timeouts against a
	// networked backend. The Coordinator treats it as a miss.
	ErrBackendUnavailable = errors.New("cache backend unavailable")

	// ErrCorruptEntry marks a stored entry that could not be decoded.
	// The Coordinator treats it as a miss and deletes the entry.
	ErrCorruptEntry = errors.New("corrupt cache entry")
)

// BackendSize reports how much a backend currently holds.
// Bytes is 0 when the backend cannot measure it cheaply.
type BackendSize struct {
	Entries int64 `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Backend is the storage contract shared by every cache driver.
//
// Get never enforces TTL: freshness is judged by the Coordinator from the
// entry's StoredAt and TTL. Put overwrites any existing entry and stamps the
// current time. Delete is a no-op for absent keys. Clear removes only this
// cache's namespace. Size is informational.
type Backend interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (BackendSize, error)

	// Name returns the configured backend name (file, redis, database, memory).
	Name() string

	// Close releases connections and file handles.
	Close() error
}

// EvictionNotifier is implemented by backends that evict entries on their own,
// for example to stay under a size budget. The hook receives the number of
// entries removed by one eviction pass.
type EvictionNotifier interface {
	OnEvict(hook func(n int))
}

// Clock returns the current time. Backends and the Coordinator take one so tests
// can control expiry without sleeping.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidCacheKey
	}
	return nil
}
