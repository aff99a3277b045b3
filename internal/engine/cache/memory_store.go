package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	defaultMemoryMaxSizeMB = 64

	// memoryAvgEntryBytes estimates entry size to derive ristretto's counter count.
	memoryAvgEntryBytes = 4 * 1024

	minMemoryCounters = 1000
)

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	// MaxSizeMB bounds the total payload bytes held in memory.
	MaxSizeMB int

	Clock Clock
}

type memoryItem struct {
	payload  []byte
	storedAt time.Time
	ttl      time.Duration
}

// MemoryStore is a size-bounded in-process store backed by ristretto.
// Admission and eviction are decided by ristretto, so a Put may be dropped
// under memory pressure; that only ever produces a later miss.
type MemoryStore struct {
	cache *ristretto.Cache
	clock Clock

	hookMu  sync.RWMutex
	onEvict func(n int)
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(cfg MemoryStoreConfig) (*MemoryStore, error) {
	if cfg.MaxSizeMB < 0 {
		return nil, fmt.Errorf("memory cache max size must be >= 0, got %d", cfg.MaxSizeMB)
	}
	maxSizeMB := cfg.MaxSizeMB
	if maxSizeMB == 0 {
		maxSizeMB = defaultMemoryMaxSizeMB
	}
	maxCost := int64(maxSizeMB) * bytesPerMB

	// NumCounters should be ~10x the number of entries.
	numCounters := maxCost / memoryAvgEntryBytes * 10
	if numCounters < minMemoryCounters {
		numCounters = minMemoryCounters
	}

	s := &MemoryStore{clock: cfg.Clock}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        numCounters,
		MaxCost:            maxCost,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
		OnEvict: func(*ristretto.Item) {
			s.notifyEvicted(1)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	s.cache = c

	return s, nil
}

// Name implements Backend.
func (s *MemoryStore) Name() string { return BackendMemory }

// OnEvict implements EvictionNotifier.
func (s *MemoryStore) OnEvict(hook func(n int)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onEvict = hook
}

// Get implements Backend.
func (s *MemoryStore) Get(_ context.Context, key string) (*CacheEntry, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	val, found := s.cache.Get(key)
	if !found {
		return nil, ErrCacheNotFound
	}

	item, ok := val.(*memoryItem)
	if !ok {
		s.cache.Del(key)
		return nil, fmt.Errorf("%w: unexpected value type %T", ErrCorruptEntry, val)
	}

	return NewCacheEntry(key, item.payload, item.ttl, item.storedAt), nil
}

// Put implements Backend. The call waits for ristretto's write buffer so an
// admitted entry is visible to the next Get.
func (s *MemoryStore) Put(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}

	item := &memoryItem{
		payload:  append([]byte(nil), payload...),
		storedAt: s.clock.now(),
		ttl:      ttl,
	}

	_ = s.cache.Set(key, item, int64(len(key)+len(payload)))
	s.cache.Wait()

	return nil
}

// Delete implements Backend.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.cache.Del(key)
	return nil
}

// Clear implements Backend.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.cache.Clear()
	return nil
}

// Size reports the approximate live entry count and bytes from ristretto's metrics.
func (s *MemoryStore) Size(_ context.Context) (BackendSize, error) {
	m := s.cache.Metrics
	if m == nil {
		return BackendSize{}, errors.New("memory cache metrics disabled")
	}

	entries := int64(m.KeysAdded()) - int64(m.KeysEvicted())
	bytes := int64(m.CostAdded()) - int64(m.CostEvicted())
	if entries < 0 {
		entries = 0
	}
	if bytes < 0 {
		bytes = 0
	}

	return BackendSize{Entries: entries, Bytes: bytes}, nil
}

// Close implements Backend.
func (s *MemoryStore) Close() error {
	s.cache.Close()
	return nil
}

func (s *MemoryStore) notifyEvicted(n int) {
	s.hookMu.RLock()
	hook := s.onEvict
	s.hookMu.RUnlock()
	if hook != nil {
		hook(n)
	}
}
