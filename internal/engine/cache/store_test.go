package cache

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T, cfg FileStoreConfig) *FileStore {
	t.Helper()
	if cfg.Directory == "" {
		cfg.Directory = t.TempDir()
	}
	store, err := NewFileStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestNewFileStore_Validation(t *testing.T) {
	_, err := NewFileStore(FileStoreConfig{})
	assert.Error(t, err)

	_, err = NewFileStore(FileStoreConfig{Directory: t.TempDir(), MaxSizeMB: -1})
	assert.Error(t, err)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()

	for _, compression := range []bool{false, true} {
		name := "plain"
		if compression {
			name = "zstd"
		}

		t.Run(name, func(t *testing.T) {
			store := newTestFileStore(t, FileStoreConfig{Compression: compression, Clock: clock.Clock()})
			assert.Equal(t, BackendFile, store.Name())

			payload := []byte(`{"status":"OK","data":[{"cve":"CVE-2024-0001"}]}`)

			t.Run("PutAndGet", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "epss:get:abc:current", payload, time.Hour))

				entry, err := store.Get(ctx, "epss:get:abc:current")
				require.NoError(t, err)
				assert.Equal(t, payload, entry.Payload)
				assert.Equal(t, time.Hour, entry.TTL)
				assert.True(t, clock.Now().Equal(entry.StoredAt))

				size, err := store.Size(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), size.Entries)
				assert.Positive(t, size.Bytes)
			})

			t.Run("Overwrite", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "epss:get:abc:current", []byte("v2"), time.Minute))

				entry, err := store.Get(ctx, "epss:get:abc:current")
				require.NoError(t, err)
				assert.Equal(t, []byte("v2"), entry.Payload)
				assert.Equal(t, time.Minute, entry.TTL)
			})

			t.Run("GetDoesNotEnforceTTL", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "short", payload, time.Nanosecond))
				clock.Advance(time.Hour)

				entry, err := store.Get(ctx, "short")
				require.NoError(t, err)
				assert.True(t, entry.IsExpired(clock.Now()))
			})

			t.Run("Delete", func(t *testing.T) {
				require.NoError(t, store.Delete(ctx, "epss:get:abc:current"))
				_, err := store.Get(ctx, "epss:get:abc:current")
				assert.ErrorIs(t, err, ErrCacheNotFound)

				// Deleting again is a no-op.
				assert.NoError(t, store.Delete(ctx, "epss:get:abc:current"))
			})

			t.Run("Clear", func(t *testing.T) {
				require.NoError(t, store.Put(ctx, "k1", payload, time.Hour))
				require.NoError(t, store.Put(ctx, "k2", payload, time.Hour))
				require.NoError(t, store.Clear(ctx))

				size, err := store.Size(ctx)
				require.NoError(t, err)
				assert.Zero(t, size.Entries)
			})
		})
	}
}

func TestFileStore_EmptyKey(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t, FileStoreConfig{})

	_, err := store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidCacheKey)
	assert.ErrorIs(t, store.Put(ctx, "", nil, time.Hour), ErrInvalidCacheKey)
	assert.ErrorIs(t, store.Delete(ctx, ""), ErrInvalidCacheKey)
}

func TestFileStore_FilenamesDoNotLeakKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestFileStore(t, FileStoreConfig{Directory: dir})

	key := "../../etc/passwd"
	require.NoError(t, store.Put(ctx, key, []byte("x"), time.Hour))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	assert.Regexp(t, `^[0-9a-f]{64}\.entry$`, name)
	assert.NotContains(t, name, "passwd")

	entry, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, entry.Key)
}

func TestFileStore_CompressionIsDetectedOnRead(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	payload := bytes.Repeat([]byte(`{"epss":"0.00043","percentile":"0.0789"}`), 200)

	compressed := newTestFileStore(t, FileStoreConfig{Directory: dir, Compression: true})
	require.NoError(t, compressed.Put(ctx, "k", payload, time.Hour))

	size, err := compressed.Size(ctx)
	require.NoError(t, err)
	assert.Less(t, size.Bytes, int64(len(payload)))

	plain := newTestFileStore(t, FileStoreConfig{Directory: dir, Compression: false})
	entry, err := plain.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, payload, entry.Payload)
}

func TestFileStore_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t, FileStoreConfig{})

	require.NoError(t, store.Put(ctx, "k", []byte("ok"), time.Hour))
	require.NoError(t, os.WriteFile(store.keyToFilePath("k"), []byte("{not json"), 0o600))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCorruptEntry)

	require.NoError(t, os.WriteFile(store.keyToFilePath("k"), append([]byte{0x28, 0xb5, 0x2f, 0xfd}, "junk"...), 0o600))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestFileStore_SizeBudgetEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := newTestFileStore(t, FileStoreConfig{MaxSizeMB: 1, Clock: clock.Clock()})

	var evicted atomic.Int64
	store.OnEvict(func(n int) { evicted.Add(int64(n)) })

	// Roughly 133 KiB per file once base64-encoded, so ten entries exceed 1 MiB.
	const entries = 12
	keys := make([]string, entries)
	for i := range entries {
		keys[i] = "epss:record:" + strings.Repeat(string(rune('a'+i)), 8)
		require.NoError(t, store.Put(ctx, keys[i], randomPayload(t, 100*1024), time.Hour))
		clock.Advance(time.Second)
	}

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, size.Bytes, int64(bytesPerMB))
	assert.Positive(t, evicted.Load())
	assert.Equal(t, int64(entries)-size.Entries, evicted.Load())

	// The survivors are the most recent writes.
	survivors := int(size.Entries)
	for i, key := range keys {
		_, getErr := store.Get(ctx, key)
		if i < entries-survivors {
			assert.ErrorIs(t, getErr, ErrCacheNotFound, "key %d should have been evicted", i)
		} else {
			assert.NoError(t, getErr, "key %d should have survived", i)
		}
	}
}

func TestFileStore_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := newTestFileStore(t, FileStoreConfig{Clock: clock.Clock()})

	var evicted atomic.Int64
	store.OnEvict(func(n int) { evicted.Add(int64(n)) })

	require.NoError(t, store.Put(ctx, "short", []byte("x"), time.Minute))
	require.NoError(t, store.Put(ctx, "long", []byte("y"), time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(store.GetDirectory(), strings.Repeat("0", 64)+".entry"), []byte("garbage"), 0o600))

	clock.Advance(2 * time.Minute)

	removed, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, int64(2), evicted.Load())

	_, err = store.Get(ctx, "long")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestFileStore_ClearLeavesForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := newTestFileStore(t, FileStoreConfig{Directory: dir})

	foreign := filepath.Join(dir, "README")
	require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".entry-123.tmp"), []byte("stale"), 0o600))
	require.NoError(t, store.Put(ctx, "k", []byte("v"), time.Hour))

	require.NoError(t, store.Clear(ctx))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "README", entries[0].Name())
}

func TestFileStore_ConcurrentWritersSameKey(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t, FileStoreConfig{Compression: true})

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte('a' + i)}, 4096)
			assert.NoError(t, store.Put(ctx, "shared", payload, time.Hour))
		}()
	}
	wg.Wait()

	entry, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, entry.Payload, 4096)
	first := entry.Payload[0]
	assert.Equal(t, bytes.Repeat([]byte{first}, 4096), entry.Payload)
}
