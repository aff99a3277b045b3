package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// lazyBackend connects on first use. Until a connection succeeds every call
// fails with the open error, so a GuardedBackend around it paces the retries.
type lazyBackend struct {
	name string
	open func(ctx context.Context) (Backend, error)

	mu     sync.Mutex
	inner  Backend
	closed bool
}

func newLazyBackend(name string, open func(ctx context.Context) (Backend, error)) *lazyBackend {
	return &lazyBackend{name: name, open: open}
}

var errBackendClosed = errors.New("cache backend closed")

func (l *lazyBackend) backend(ctx context.Context) (Backend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errBackendClosed
	}
	if l.inner != nil {
		return l.inner, nil
	}
	inner, err := l.open(ctx)
	if err != nil {
		return nil, err
	}
	l.inner = inner
	return inner, nil
}

// Name implements Backend.
func (l *lazyBackend) Name() string { return l.name }

// Get implements Backend.
func (l *lazyBackend) Get(ctx context.Context, key string) (*CacheEntry, error) {
	b, err := l.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, key)
}

// Put implements Backend.
func (l *lazyBackend) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	b, err := l.backend(ctx)
	if err != nil {
		return err
	}
	return b.Put(ctx, key, payload, ttl)
}

// Delete implements Backend.
func (l *lazyBackend) Delete(ctx context.Context, key string) error {
	b, err := l.backend(ctx)
	if err != nil {
		return err
	}
	return b.Delete(ctx, key)
}

// Clear implements Backend.
func (l *lazyBackend) Clear(ctx context.Context) error {
	b, err := l.backend(ctx)
	if err != nil {
		return err
	}
	return b.Clear(ctx)
}

// Size implements Backend.
func (l *lazyBackend) Size(ctx context.Context) (BackendSize, error) {
	b, err := l.backend(ctx)
	if err != nil {
		return BackendSize{}, err
	}
	return b.Size(ctx)
}

// Close implements Backend.
func (l *lazyBackend) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.inner == nil {
		return nil
	}
	return l.inner.Close()
}
