package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// defaultRedisTimeout bounds each call when no socket timeout is configured.
	defaultRedisTimeout = 5 * time.Second

	// redisScanCount is the COUNT hint passed to SCAN.
	redisScanCount = 500

	// redisDeleteBatch is the number of keys removed per DEL during Clear.
	redisDeleteBatch = 500
)

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Host     string
	Port     int
	DB       int
	Password string

	// Namespace scopes every key; Clear and Size only touch keys under it.
	Namespace string

	// SocketTimeout bounds each command and the dial.
	SocketTimeout time.Duration

	// MaxConnections sizes the connection pool (0 = go-redis default).
	MaxConnections int

	Clock Clock
}

// RedisStore stores cache entries in a Redis-compatible key-value server.
// Entries carry their own stored_at and TTL; the server-side expiry is set to
// the same TTL so abandoned keys do not accumulate.
type RedisStore struct {
	client    *redis.Client
	namespace string
	timeout   time.Duration
	clock     Clock
}

// NewRedisStore connects to the server and verifies it with PING.
// An unreachable server yields ErrBackendUnavailable.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Host == "" {
		return nil, errors.New("redis host cannot be empty")
	}
	timeout := cfg.SocketTimeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	namespace := strings.TrimSuffix(cfg.Namespace, ":")
	if namespace == "" {
		namespace = DefaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     cfg.MaxConnections,
	})

	return newRedisStore(ctx, client, namespace, timeout, cfg.Clock)
}

func newRedisStore(
	ctx context.Context,
	client *redis.Client,
	namespace string,
	timeout time.Duration,
	clock Clock,
) (*RedisStore, error) {
	s := &RedisStore{
		client:    client,
		namespace: namespace,
		timeout:   timeout,
		clock:     clock,
	}

	pingCtx, cancel := s.callContext(ctx)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping redis", err)
	}

	return s, nil
}

// Name implements Backend.
func (s *RedisStore) Name() string { return BackendRedis }

// Get implements Backend.
func (s *RedisStore) Get(ctx context.Context, key string) (*CacheEntry, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}

	var entry CacheEntry
	if unmarshalErr := json.Unmarshal(data, &entry); unmarshalErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptEntry, unmarshalErr)
	}
	entry.Key = key

	return &entry, nil
}

// Put implements Backend. The server-side expiry matches ttl; a non-positive
// ttl stores the key without expiry.
func (s *RedisStore) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}

	data, err := json.Marshal(NewCacheEntry(key, payload, ttl, s.clock.now()))
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	expiration := ttl
	if expiration < 0 {
		expiration = 0
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if setErr := s.client.Set(ctx, s.redisKey(key), data, expiration).Err(); setErr != nil {
		return unavailable("set", setErr)
	}
	return nil
}

// Delete implements Backend.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

// Clear removes every key under the namespace. Other keys in the same
// database are left alone.
func (s *RedisStore) Clear(ctx context.Context) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	batch := make([]string, 0, redisDeleteBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return unavailable("del", err)
		}
		batch = batch[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, s.pattern(), redisScanCount).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == redisDeleteBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return unavailable("scan", err)
	}

	return flush()
}

// Size counts the keys under the namespace. Bytes is not reported.
func (s *RedisStore) Size(ctx context.Context) (BackendSize, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	var n int64
	iter := s.client.Scan(ctx, 0, s.pattern(), redisScanCount).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return BackendSize{}, unavailable("scan", err)
	}

	return BackendSize{Entries: n}, nil
}

// Close implements Backend.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// redisKey namespaces key. Keys that already carry the namespace are used as is,
// which is the case for every key produced by GenerateKey with the same prefix.
func (s *RedisStore) redisKey(key string) string {
	if strings.HasPrefix(key, s.namespace+":") {
		return key
	}
	return s.namespace + ":" + key
}

func (s *RedisStore) pattern() string {
	return s.namespace + ":*"
}

func (s *RedisStore) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
}
