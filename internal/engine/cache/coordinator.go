package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// defaultBatchConcurrency bounds concurrent backend reads in LookupEach.
const defaultBatchConcurrency = 8

// FetchFunc produces the payload for a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// BatchFetchFunc produces payloads for the items at the missing indices.
// The returned slice is aligned with missing; a nil element means the data
// source had nothing for that item and it is not cached.
type BatchFetchFunc func(ctx context.Context, missing []int) ([][]byte, error)

// Coordinator implements read-through caching on top of a Backend.
//
// A lookup checks the backend, serves a fresh entry as a hit, and otherwise
// calls the fetch function and stores its result. Backend problems never fail
// a lookup: read errors count as misses and write errors are logged. Errors
// from the fetch function are returned unchanged.
//
// A Coordinator is safe for concurrent use. Clear excludes lookups for the
// duration of the backend clear and the statistics reset, so a snapshot taken
// afterwards never mixes counts from before and after.
type Coordinator struct {
	backend  Backend
	recorder *Recorder
	logger   zerolog.Logger
	clock    Clock

	enabled          bool
	ttl              time.Duration
	prefix           string
	coalesce         bool
	batchConcurrency int
	reconnect        bool

	group singleflight.Group
	mu    sync.RWMutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Log output is disabled by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithClock sets the time source used for freshness checks.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithCoalescing collapses concurrent misses for the same key into a single
// fetch. Every caller still counts as one miss.
func WithCoalescing(enabled bool) Option {
	return func(c *Coordinator) { c.coalesce = enabled }
}

// WithRecorder supplies the statistics recorder, for example one already
// registered with Prometheus.
func WithRecorder(r *Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithKeyPrefix sets the prefix applied to params without one.
func WithKeyPrefix(prefix string) Option {
	return func(c *Coordinator) { c.prefix = prefix }
}

// WithBatchConcurrency bounds concurrent backend reads in LookupEach.
func WithBatchConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.batchConcurrency = n
		}
	}
}

// WithReconnect controls what NewFromConfig does when the configured server is
// unreachable at startup. When enabled, the default, the coordinator stays
// enabled and connects on a later call, with retries paced by the circuit
// breaker. When disabled it falls back to pass-through for its lifetime.
func WithReconnect(enabled bool) Option {
	return func(c *Coordinator) { c.reconnect = enabled }
}

// NewCoordinator creates a Coordinator over backend. When enabled is false, or
// backend is nil, every lookup goes straight to the fetch function and no
// statistics are recorded. ttl is the default time-to-live for new entries.
func NewCoordinator(backend Backend, enabled bool, ttl time.Duration, opts ...Option) *Coordinator {
	if backend == nil {
		backend = NewNoopStore()
		enabled = false
	}

	c := &Coordinator{
		backend:          backend,
		logger:           zerolog.Nop(),
		enabled:          enabled,
		ttl:              ttl,
		prefix:           DefaultKeyPrefix,
		batchConcurrency: defaultBatchConcurrency,
		reconnect:        true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.recorder == nil {
		c.recorder = NewRecorder(backend.Name(), c.clock)
	}

	if notifier, ok := backend.(EvictionNotifier); ok {
		notifier.OnEvict(c.recorder.RecordEviction)
	}

	return c
}

// LookupOption adjusts a single lookup.
type LookupOption func(*lookupOptions)

type lookupOptions struct {
	useCache bool
	ttl      time.Duration
	ttlSet   bool
}

// WithUseCache(false) skips the cache for one call: the fetch function runs and
// nothing is read, written or counted.
func WithUseCache(use bool) LookupOption {
	return func(o *lookupOptions) { o.useCache = use }
}

// WithTTL overrides the TTL for one call, for both the freshness check and the
// write. A TTL of zero or less bypasses the cache.
func WithTTL(ttl time.Duration) LookupOption {
	return func(o *lookupOptions) {
		o.ttl = ttl
		o.ttlSet = true
	}
}

func (c *Coordinator) resolve(opts []LookupOption) lookupOptions {
	lo := lookupOptions{useCache: true}
	for _, opt := range opts {
		opt(&lo)
	}
	return lo
}

// bypass reports whether a call with lo skips the cache entirely.
func (c *Coordinator) bypass(lo lookupOptions) bool {
	if !c.enabled || !lo.useCache {
		return true
	}
	return !Cacheable(EffectiveWriteTTL(c.ttl, lo.ttl, lo.ttlSet))
}

// Key returns the cache key for params, applying the coordinator's prefix.
func (c *Coordinator) Key(params KeyParams) (string, error) {
	if params.Prefix == "" {
		params.Prefix = c.prefix
	}
	return GenerateKey(params)
}

// Lookup returns the payload for params, from the cache when a fresh entry
// exists and from fetch otherwise.
func (c *Coordinator) Lookup(ctx context.Context, params KeyParams, fetch FetchFunc, opts ...LookupOption) ([]byte, error) {
	lo := c.resolve(opts)
	if c.bypass(lo) {
		return fetch(ctx)
	}

	key, err := c.Key(params)
	if err != nil {
		c.logger.Warn().Ctx(ctx).Err(err).Msg("cannot derive cache key, bypassing cache")
		return fetch(ctx)
	}

	if payload, hit := c.read(ctx, key, lo); hit {
		return payload, nil
	}

	if !c.coalesce {
		return c.fetchAndStore(ctx, key, fetch, lo)
	}

	// The shared fetch outlives any single caller; each caller waits on its
	// own context.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetchAndStore(shared, key, fetch, lo)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return bytes.Clone(res.Val.([]byte)), nil
	}
}

// LookupEach resolves every item independently: cached items are served from
// the backend and all missing items are passed to a single fetch call. Each
// item counts as one lookup. The result is aligned with items; an element is
// nil when the data source returned nothing for it.
func (c *Coordinator) LookupEach(
	ctx context.Context,
	items []KeyParams,
	fetch BatchFetchFunc,
	opts ...LookupOption,
) ([][]byte, error) {
	results := make([][]byte, len(items))
	if len(items) == 0 {
		return results, nil
	}

	lo := c.resolve(opts)
	if c.bypass(lo) {
		return c.fetchAll(ctx, results, fetch)
	}

	keys := make([]string, len(items))
	for i, params := range items {
		key, err := c.Key(params)
		if err != nil {
			c.logger.Warn().Ctx(ctx).Err(err).Msg("cannot derive cache key, bypassing cache")
			return c.fetchAll(ctx, results, fetch)
		}
		keys[i] = key
	}

	hits := make([]bool, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.batchConcurrency)
	for i, key := range keys {
		g.Go(func() error {
			results[i], hits[i] = c.read(gctx, key, lo)
			return nil
		})
	}
	_ = g.Wait()

	var missing []int
	for i, hit := range hits {
		if !hit {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return results, nil
	}

	payloads, err := fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(payloads) != len(missing) {
		return nil, fmt.Errorf("batch fetch returned %d payloads for %d items", len(payloads), len(missing))
	}

	writeTTL := EffectiveWriteTTL(c.ttl, lo.ttl, lo.ttlSet)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(c.batchConcurrency)
	for j, idx := range missing {
		results[idx] = payloads[j]
		if payloads[j] == nil {
			continue
		}
		g.Go(func() error {
			c.write(gctx, keys[idx], payloads[j], writeTTL)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (c *Coordinator) fetchAll(ctx context.Context, results [][]byte, fetch BatchFetchFunc) ([][]byte, error) {
	all := make([]int, len(results))
	for i := range all {
		all[i] = i
	}
	payloads, err := fetch(ctx, all)
	if err != nil {
		return nil, err
	}
	if len(payloads) != len(all) {
		return nil, fmt.Errorf("batch fetch returned %d payloads for %d items", len(payloads), len(all))
	}
	copy(results, payloads)
	return results, nil
}

// read checks the backend and records a hit or miss. Backend errors are misses.
func (c *Coordinator) read(ctx context.Context, key string, lo lookupOptions) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, err := c.backend.Get(ctx, key)
	switch {
	case err == nil:
		readTTL := EffectiveReadTTL(entry, lo.ttl, lo.ttlSet)
		if IsFresh(entry, c.clock.now(), readTTL) {
			c.recorder.RecordHit()
			c.logger.Debug().Ctx(ctx).Str("key", key).Msg("cache hit")
			return entry.Payload, true
		}
		c.logger.Debug().Ctx(ctx).Str("key", key).Msg("cache entry stale")

	case errors.Is(err, ErrCacheNotFound):
		c.logger.Debug().Ctx(ctx).Str("key", key).Msg("cache miss")

	case errors.Is(err, ErrCorruptEntry):
		c.recorder.RecordError()
		c.logger.Warn().Ctx(ctx).Err(err).Str("key", key).Msg("corrupt cache entry, deleting")
		if delErr := c.backend.Delete(ctx, key); delErr != nil {
			c.logger.Warn().Ctx(ctx).Err(delErr).Str("key", key).Msg("failed to delete corrupt cache entry")
		}

	default:
		c.recorder.RecordError()
		c.logger.Warn().Ctx(ctx).Err(err).Str("key", key).Str("backend", c.backend.Name()).
			Msg("cache read failed, treating as miss")
	}

	c.recorder.RecordMiss()
	return nil, false
}

func (c *Coordinator) fetchAndStore(ctx context.Context, key string, fetch FetchFunc, lo lookupOptions) ([]byte, error) {
	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.write(ctx, key, payload, EffectiveWriteTTL(c.ttl, lo.ttl, lo.ttlSet))
	return payload, nil
}

// write stores payload. Failures are logged and counted, never returned.
func (c *Coordinator) write(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.backend.Put(ctx, key, payload, ttl); err != nil {
		c.recorder.RecordError()
		c.logger.Warn().Ctx(ctx).Err(err).Str("key", key).Str("backend", c.backend.Name()).
			Msg("cache write failed")
		return
	}
	c.recorder.RecordSet()
}

// Contains reports whether a fresh entry exists for params. Statistics are
// not affected.
func (c *Coordinator) Contains(ctx context.Context, params KeyParams) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	key, err := c.Key(params)
	if err != nil {
		return false, err
	}

	entry, err := c.backend.Get(ctx, key)
	if errors.Is(err, ErrCacheNotFound) || errors.Is(err, ErrCorruptEntry) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !entry.IsExpired(c.clock.now()), nil
}

// Invalidate removes the entry for params.
func (c *Coordinator) Invalidate(ctx context.Context, params KeyParams) error {
	if !c.enabled {
		return nil
	}
	key, err := c.Key(params)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err = c.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("invalidating %s: %w", key, err)
	}
	c.recorder.RecordDelete()
	return nil
}

// Clear removes every entry from the backend and then resets statistics.
// When the backend clear fails the statistics are left untouched.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.backend.Clear(ctx); err != nil {
		return fmt.Errorf("clearing %s cache: %w", c.backend.Name(), err)
	}
	c.recorder.Reset()
	c.logger.Info().Ctx(ctx).Str("backend", c.backend.Name()).Msg("cache cleared")
	return nil
}

// Stats returns a snapshot of the statistics.
func (c *Coordinator) Stats() StatsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.recorder.Snapshot()
	s.Backend = c.backend.Name()
	s.Enabled = c.enabled
	s.TTL = c.ttl
	return s
}

// Usage reports how much the backend currently holds.
func (c *Coordinator) Usage(ctx context.Context) (BackendSize, error) {
	return c.backend.Size(ctx)
}

// Recorder returns the statistics recorder, for registration with Prometheus.
func (c *Coordinator) Recorder() *Recorder { return c.recorder }

// Backend returns the underlying backend.
func (c *Coordinator) Backend() Backend { return c.backend }

// Enabled reports whether lookups use the cache.
func (c *Coordinator) Enabled() bool { return c.enabled }

// TTL returns the default time-to-live for new entries.
func (c *Coordinator) TTL() time.Duration { return c.ttl }

// Close releases the backend.
func (c *Coordinator) Close() error {
	return c.backend.Close()
}
