package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// cacheFileExtension is the file extension used for cache entries.
	cacheFileExtension = ".entry"

	// tempFilePattern names in-flight writes; they never match cacheFileExtension.
	tempFilePattern = ".entry-*.tmp"

	bytesPerMB = 1024 * 1024
)

// zstdMagic prefixes every zstd frame. Entries are sniffed on read so toggling
// compression does not invalidate existing files.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Directory holds one file per entry. Created if missing.
	Directory string

	// MaxSizeMB bounds the total size of entry files (0 = unlimited).
	MaxSizeMB int

	// Compression enables zstd compression of entry files.
	Compression bool

	// Clock stamps StoredAt; time.Now when nil.
	Clock Clock
}

// FileStore stores cache entries as files in a directory.
// Writes go to a temporary file that is renamed into place, so readers never
// observe a partially written entry. When the directory exceeds its size budget
// the entries with the oldest StoredAt are evicted first.
type FileStore struct {
	directory   string
	maxBytes    int64
	compression bool
	clock       Clock

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// mu guards directory scans (Clear, eviction) against concurrent writes.
	mu sync.RWMutex

	hookMu  sync.RWMutex
	onEvict func(n int)
}

// NewFileStore creates a new file-based cache store.
// The directory will be created if it doesn't exist.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Directory == "" {
		return nil, errors.New("cache directory cannot be empty")
	}
	if cfg.MaxSizeMB < 0 {
		return nil, fmt.Errorf("cache max size must be >= 0, got %d", cfg.MaxSizeMB)
	}

	if err := os.MkdirAll(cfg.Directory, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &FileStore{
		directory:   cfg.Directory,
		maxBytes:    int64(cfg.MaxSizeMB) * bytesPerMB,
		compression: cfg.Compression,
		clock:       cfg.Clock,
		encoder:     encoder,
		decoder:     decoder,
	}, nil
}

// Name implements Backend.
func (s *FileStore) Name() string { return BackendFile }

// GetDirectory returns the cache directory path.
func (s *FileStore) GetDirectory() string {
	return s.directory
}

// OnEvict implements EvictionNotifier.
func (s *FileStore) OnEvict(hook func(n int)) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onEvict = hook
}

// Get retrieves a cache entry by key.
// Returns ErrCacheNotFound if the entry doesn't exist and ErrCorruptEntry if it cannot be decoded.
func (s *FileStore) Get(_ context.Context, key string) (*CacheEntry, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.keyToFilePath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCacheNotFound
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	entry, err := s.decode(data)
	if err != nil {
		return nil, err
	}

	// Filenames are hashes; guard against a collision returning the wrong payload.
	if entry.Key != key {
		return nil, ErrCacheNotFound
	}

	return entry, nil
}

// Put stores a cache entry, overwriting any existing one.
func (s *FileStore) Put(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}

	storedAt := s.clock.now()
	entry := NewCacheEntry(key, payload, ttl, storedAt)

	data, err := s.encode(entry)
	if err != nil {
		return err
	}

	if writeErr := s.writeAtomic(s.keyToFilePath(key), data, storedAt); writeErr != nil {
		return writeErr
	}

	if s.maxBytes > 0 {
		if _, evictErr := s.enforceBudget(); evictErr != nil {
			return fmt.Errorf("failed to enforce cache size budget: %w", evictErr)
		}
	}

	return nil
}

// Delete removes a cache entry by key.
// Returns nil if the entry doesn't exist (idempotent).
func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	err := os.Remove(s.keyToFilePath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}

	return nil
}

// Clear removes all cache entries and leftover temporary files from the store.
// Files that do not belong to the cache are left alone.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isCacheFile(entry.Name()) {
			continue
		}

		filePath := filepath.Join(s.directory, entry.Name())
		if removeErr := os.Remove(filePath); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove cache file %s: %w", entry.Name(), removeErr)
		}
	}

	return nil
}

// Size returns the number of entry files and their total size in bytes.
func (s *FileStore) Size(_ context.Context) (BackendSize, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, total, err := s.scan()
	if err != nil {
		return BackendSize{}, err
	}

	return BackendSize{Entries: int64(len(files)), Bytes: total}, nil
}

// CleanupExpired removes every entry that is stale under its own TTL and
// returns how many were removed. Unreadable entries are removed too.
func (s *FileStore) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, _, err := s.scan()
	if err != nil {
		return 0, err
	}

	now := s.clock.now()
	removed := 0
	for _, f := range files {
		data, readErr := os.ReadFile(f.path)
		if readErr != nil {
			continue
		}

		entry, decodeErr := s.decode(data)
		if decodeErr == nil && !entry.IsExpired(now) {
			continue
		}

		if os.Remove(f.path) == nil {
			removed++
		}
	}

	s.notifyEvicted(removed)
	return removed, nil
}

// Close releases the compression codecs.
func (s *FileStore) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

type fileInfo struct {
	path    string
	size    int64
	modTime time.Time
}

// scan lists entry files. Callers hold mu.
func (s *FileStore) scan() ([]fileInfo, int64, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	files := make([]fileInfo, 0, len(entries))
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != cacheFileExtension {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}

		files = append(files, fileInfo{
			path:    filepath.Join(s.directory, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}

	return files, total, nil
}

// enforceBudget evicts the oldest entries until the directory fits in maxBytes.
// A file's modification time is set to its StoredAt on write, so sorting by
// mtime orders entries by StoredAt.
func (s *FileStore) enforceBudget() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, total, err := s.scan()
	if err != nil {
		return 0, err
	}
	if total <= s.maxBytes {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	evicted := 0
	for _, f := range files {
		if total <= s.maxBytes {
			break
		}
		if removeErr := os.Remove(f.path); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			continue
		}
		total -= f.size
		evicted++
	}

	s.notifyEvicted(evicted)
	return evicted, nil
}

func (s *FileStore) notifyEvicted(n int) {
	if n == 0 {
		return
	}
	s.hookMu.RLock()
	hook := s.onEvict
	s.hookMu.RUnlock()
	if hook != nil {
		hook(n)
	}
}

// writeAtomic writes data to a temporary file in the cache directory and
// renames it over path.
func (s *FileStore) writeAtomic(path string, data []byte, storedAt time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmp, err := os.CreateTemp(s.directory, tempFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tempPath := tmp.Name()

	if _, writeErr := tmp.Write(data); writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write cache file: %w", writeErr)
	}
	if closeErr := tmp.Close(); closeErr != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close cache file: %w", closeErr)
	}

	// Best effort: eviction falls back to write time if this fails.
	_ = os.Chtimes(tempPath, storedAt, storedAt)

	if renameErr := os.Rename(tempPath, path); renameErr != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", renameErr)
	}

	return nil
}

func (s *FileStore) encode(entry *CacheEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if s.compression {
		data = s.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}
	return data, nil
}

func (s *FileStore) decode(data []byte) (*CacheEntry, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		plain, err := s.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
		}
		data = plain
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, err)
	}
	return &entry, nil
}

// keyToFilePath converts a cache key to a file path.
// The key is hashed so no part of it reaches the filesystem.
func (s *FileStore) keyToFilePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.directory, hex.EncodeToString(sum[:])+cacheFileExtension)
}

func isCacheFile(name string) bool {
	if filepath.Ext(name) == cacheFileExtension {
		return true
	}
	return strings.HasPrefix(name, ".entry-") && strings.HasSuffix(name, ".tmp")
}
