package cache

import (
	"context"
	"time"
)

// NoopStore stores nothing. It stands in for a real backend when caching is
// disabled or the configured backend could not be reached.
type NoopStore struct{}

// NewNoopStore returns a NoopStore.
func NewNoopStore() *NoopStore { return &NoopStore{} }

func (NoopStore) Name() string { return BackendNoop }

func (NoopStore) Get(context.Context, string) (*CacheEntry, error) { return nil, ErrCacheNotFound }

func (NoopStore) Put(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopStore) Delete(context.Context, string) error { return nil }

func (NoopStore) Clear(context.Context) error { return nil }

func (NoopStore) Size(context.Context) (BackendSize, error) { return BackendSize{}, nil }

func (NoopStore) Close() error { return nil }
