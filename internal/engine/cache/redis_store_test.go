package cache

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, clock Clock) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	store, err := NewRedisStore(context.Background(), RedisStoreConfig{
		Host:          host,
		Port:          port,
		Namespace:     "epss",
		SocketTimeout: time.Second,
		Clock:         clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, srv
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store, srv := newTestRedisStore(t, clock.Clock())

	assert.Equal(t, BackendRedis, store.Name())
	key := MustGenerateKey(KeyParams{Operation: "get", CVEs: []string{"CVE-2024-0001"}})

	t.Run("PutAndGet", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, key, []byte(`{"ok":true}`), time.Hour))

		entry, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, entry.Key)
		assert.Equal(t, []byte(`{"ok":true}`), entry.Payload)
		assert.Equal(t, time.Hour, entry.TTL)
		assert.True(t, clock.Now().Equal(entry.StoredAt))

		// Keys generated with the namespace prefix are stored as is.
		assert.True(t, srv.Exists(key))
		assert.Equal(t, time.Hour, srv.TTL(key))
	})

	t.Run("RawKeysAreNamespaced", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "plain", []byte("v"), time.Minute))
		assert.True(t, srv.Exists("epss:plain"))

		entry, err := store.Get(ctx, "plain")
		require.NoError(t, err)
		assert.Equal(t, "plain", entry.Key)
	})

	t.Run("ServerExpiry", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "brief", []byte("v"), time.Second))
		srv.FastForward(2 * time.Second)

		_, err := store.Get(ctx, "brief")
		assert.ErrorIs(t, err, ErrCacheNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, key))
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, ErrCacheNotFound)
		assert.NoError(t, store.Delete(ctx, key))
	})

	t.Run("CorruptValue", func(t *testing.T) {
		require.NoError(t, srv.Set("epss:broken", "{nope"))
		_, err := store.Get(ctx, "broken")
		assert.ErrorIs(t, err, ErrCorruptEntry)
	})

	t.Run("ClearOnlyTouchesNamespace", func(t *testing.T) {
		require.NoError(t, srv.Set("other:keep", "1"))
		for i := range 1200 {
			require.NoError(t, store.Put(ctx, "bulk:"+strconv.Itoa(i), []byte("v"), time.Hour))
		}

		size, err := store.Size(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, size.Entries, int64(1200))

		require.NoError(t, store.Clear(ctx))

		size, err = store.Size(ctx)
		require.NoError(t, err)
		assert.Zero(t, size.Entries)
		assert.True(t, srv.Exists("other:keep"))
	})
}

func TestRedisStore_Unreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(srv.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	srv.Close()

	_, err = NewRedisStore(context.Background(), RedisStoreConfig{
		Host:          host,
		Port:          port,
		SocketTimeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestRedisStore_ServerGoesAway(t *testing.T) {
	ctx := context.Background()
	store, srv := newTestRedisStore(t, nil)
	require.NoError(t, store.Put(ctx, "k", []byte("v"), time.Hour))

	srv.Close()

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, store.Put(ctx, "k", []byte("v"), time.Hour), ErrBackendUnavailable)
	assert.ErrorIs(t, store.Clear(ctx), ErrBackendUnavailable)
}

func TestNewRedisStore_RequiresHost(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisStoreConfig{})
	assert.Error(t, err)
}
