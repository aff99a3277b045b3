package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Breaker defaults for networked backends.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// GuardConfig tunes the circuit breaker of a GuardedBackend. Zero fields take
// the defaults.
type GuardConfig struct {
	// Failures is the number of consecutive ErrBackendUnavailable results that
	// open the breaker.
	Failures uint32

	// Timeout is how long the breaker stays open before admitting a trial call.
	Timeout time.Duration

	// HalfOpenRequests caps concurrent trial calls while half-open.
	HalfOpenRequests uint32
}

// GuardedBackend wraps a networked backend with a circuit breaker. While the
// breaker is open every call fails fast with ErrBackendUnavailable instead of
// waiting for a socket timeout.
type GuardedBackend struct {
	inner   Backend
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewGuardedBackend wraps inner. Only ErrBackendUnavailable counts as a
// failure; misses and corrupt entries say nothing about the server's health.
func NewGuardedBackend(inner Backend, logger zerolog.Logger, cfg GuardConfig) *GuardedBackend {
	failures := cfg.Failures
	if failures == 0 {
		failures = DefaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultBreakerTimeout
	}

	return &GuardedBackend{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        inner.Name(),
			MaxRequests: max(cfg.HalfOpenRequests, 1),
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return !errors.Is(err, ErrBackendUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().
					Str("backend", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("cache backend circuit state changed")
			},
		}),
	}
}

// Unwrap returns the wrapped backend.
func (g *GuardedBackend) Unwrap() Backend { return g.inner }

// BreakerState reports the breaker state.
func (g *GuardedBackend) BreakerState() gobreaker.State { return g.breaker.State() }

// Name implements Backend.
func (g *GuardedBackend) Name() string { return g.inner.Name() }

// OnEvict forwards to the wrapped backend when it reports evictions.
func (g *GuardedBackend) OnEvict(hook func(n int)) {
	if n, ok := g.inner.(EvictionNotifier); ok {
		n.OnEvict(hook)
	}
}

// Get implements Backend.
func (g *GuardedBackend) Get(ctx context.Context, key string) (*CacheEntry, error) {
	var entry *CacheEntry
	err := g.call(func() error {
		var getErr error
		entry, getErr = g.inner.Get(ctx, key)
		return getErr
	})
	return entry, err
}

// Put implements Backend.
func (g *GuardedBackend) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return g.call(func() error { return g.inner.Put(ctx, key, payload, ttl) })
}

// Delete implements Backend.
func (g *GuardedBackend) Delete(ctx context.Context, key string) error {
	return g.call(func() error { return g.inner.Delete(ctx, key) })
}

// Clear implements Backend.
func (g *GuardedBackend) Clear(ctx context.Context) error {
	return g.call(func() error { return g.inner.Clear(ctx) })
}

// Size implements Backend.
func (g *GuardedBackend) Size(ctx context.Context) (BackendSize, error) {
	var size BackendSize
	err := g.call(func() error {
		var sizeErr error
		size, sizeErr = g.inner.Size(ctx)
		return sizeErr
	})
	return size, err
}

// Close implements Backend. It is never short-circuited.
func (g *GuardedBackend) Close() error {
	return g.inner.Close()
}

func (g *GuardedBackend) call(fn func() error) error {
	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, g.inner.Name(), err)
	}
	return err
}
