package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	// Database drivers selected by URL scheme.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rshade/epsscache/internal/config"
)

const defaultSQLTimeout = 30 * time.Second

// SQLStoreConfig configures a SQLStore.
type SQLStoreConfig struct {
	// URL selects the engine: sqlite:///path, a bare path or file: URI for the
	// embedded engine; postgres:// or postgresql:// for a server.
	URL string

	// TableName must be a plain SQL identifier.
	TableName string

	PoolSize    int
	MaxOverflow int

	// Timeout bounds each statement, including waits for a pooled connection.
	Timeout time.Duration

	Clock Clock
}

// SQLStore stores cache entries as rows of a single table.
type SQLStore struct {
	db      *sql.DB
	driver  string
	table   string
	timeout time.Duration
	clock   Clock

	getQuery    string
	putQuery    string
	deleteQuery string
	clearQuery  string
	sizeQuery   string
}

// NewSQLStore opens the database, creates the table if needed and verifies
// the connection. An unreachable server yields ErrBackendUnavailable; an
// invalid URL or table name yields config.ErrInvalidConfig.
func NewSQLStore(ctx context.Context, cfg SQLStoreConfig) (*SQLStore, error) {
	target, err := config.ParseDatabaseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if !config.ValidTableName(cfg.TableName) {
		return nil, fmt.Errorf("%w: invalid table name %q", config.ErrInvalidConfig, cfg.TableName)
	}

	if target.Driver == config.DriverSQLite && !target.Memory {
		if dir := filepath.Dir(target.DSN); dir != "" && !strings.HasPrefix(target.DSN, "file:") {
			if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", mkErr)
			}
		}
	}

	db, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	switch {
	case target.Memory:
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	default:
		if maxOpen := cfg.PoolSize + cfg.MaxOverflow; maxOpen > 0 {
			db.SetMaxOpenConns(maxOpen)
		}
		if cfg.PoolSize > 0 {
			db.SetMaxIdleConns(cfg.PoolSize)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSQLTimeout
	}

	s := &SQLStore{
		db:      db,
		driver:  target.Driver,
		table:   cfg.TableName,
		timeout: timeout,
		clock:   cfg.Clock,
	}
	s.prepareQueries()

	if migrateErr := s.migrate(ctx); migrateErr != nil {
		_ = db.Close()
		return nil, migrateErr
	}

	return s, nil
}

func (s *SQLStore) prepareQueries() {
	t := s.table
	s.getQuery = s.rebind(`SELECT payload, stored_at, ttl_ns FROM ` + t + ` WHERE cache_key = ?`)
	s.putQuery = s.rebind(`INSERT INTO ` + t + ` (cache_key, payload, stored_at, ttl_ns) VALUES (?, ?, ?, ?)
ON CONFLICT (cache_key) DO UPDATE SET payload = excluded.payload, stored_at = excluded.stored_at, ttl_ns = excluded.ttl_ns`)
	s.deleteQuery = s.rebind(`DELETE FROM ` + t + ` WHERE cache_key = ?`)
	s.clearQuery = `DELETE FROM ` + t
	s.sizeQuery = `SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM ` + t
}

func (s *SQLStore) migrate(ctx context.Context) error {
	blobType := "BLOB"
	if s.driver == config.DriverPostgres {
		blobType = "BYTEA"
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("connect database", err)
	}

	ddl := `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	cache_key TEXT PRIMARY KEY,
	payload ` + blobType + `,
	stored_at BIGINT NOT NULL,
	ttl_ns BIGINT NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return unavailable("migrate cache table", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Name implements Backend.
func (s *SQLStore) Name() string { return BackendDatabase }

// Get implements Backend.
func (s *SQLStore) Get(ctx context.Context, key string) (*CacheEntry, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		payload  []byte
		storedAt int64
		ttlNanos int64
	)
	err := s.db.QueryRowContext(ctx, s.getQuery, key).Scan(&payload, &storedAt, &ttlNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheNotFound
	}
	if err != nil {
		return nil, unavailable("select", err)
	}

	return NewCacheEntry(key, payload, time.Duration(ttlNanos), time.Unix(0, storedAt)), nil
}

// Put implements Backend.
func (s *SQLStore) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if payload == nil {
		payload = []byte{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	storedAt := s.clock.now()
	if _, err := s.db.ExecContext(ctx, s.putQuery, key, payload, storedAt.UnixNano(), int64(ttl)); err != nil {
		return unavailable("upsert", err)
	}
	return nil
}

// Delete implements Backend.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.deleteQuery, key); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Clear removes every row of the cache table.
func (s *SQLStore) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.clearQuery); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

// Size returns the row count and total payload bytes.
func (s *SQLStore) Size(ctx context.Context) (BackendSize, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var size BackendSize
	if err := s.db.QueryRowContext(ctx, s.sizeQuery).Scan(&size.Entries, &size.Bytes); err != nil {
		return BackendSize{}, unavailable("count", err)
	}
	return size, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
