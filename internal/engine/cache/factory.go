package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rshade/epsscache/internal/config"
)

// NewBackend builds the backend selected by cfg.Backend. Networked backends
// are wrapped in a circuit breaker. Invalid settings yield
// config.ErrInvalidConfig; an unreachable server yields ErrBackendUnavailable.
func NewBackend(ctx context.Context, cfg config.CacheConfig, logger zerolog.Logger, clock Clock) (Backend, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return NewFileStore(FileStoreConfig{
			Directory:   config.ExpandHome(cfg.File.Directory),
			MaxSizeMB:   cfg.File.MaxSizeMB,
			Compression: cfg.FileCompression(),
			Clock:       clock,
		})

	case config.BackendRedis, config.BackendDatabase:
		store, err := openNetworked(ctx, cfg, clock)
		if err != nil {
			return nil, err
		}
		return NewGuardedBackend(store, logger, GuardConfig{}), nil

	case config.BackendMemory:
		return NewMemoryStore(MemoryStoreConfig{MaxSizeMB: cfg.Memory.MaxSizeMB, Clock: clock})

	default:
		return nil, &config.ConfigError{Field: "cache.backend", Value: cfg.Backend, Reason: "unknown backend"}
	}
}

// openNetworked connects to the redis or database backend without a breaker.
func openNetworked(ctx context.Context, cfg config.CacheConfig, clock Clock) (Backend, error) {
	if cfg.Backend == config.BackendRedis {
		return NewRedisStore(ctx, RedisStoreConfig{
			Host:           cfg.Redis.Host,
			Port:           cfg.Redis.Port,
			DB:             cfg.Redis.DB,
			Password:       cfg.Redis.Password,
			Namespace:      cfg.KeyPrefix,
			SocketTimeout:  cfg.Redis.SocketTimeout.Std(),
			MaxConnections: cfg.Redis.MaxConnections,
			Clock:          clock,
		})
	}
	return NewSQLStore(ctx, SQLStoreConfig{
		URL:         cfg.Database.URL,
		TableName:   cfg.Database.TableName,
		PoolSize:    cfg.Database.PoolSize,
		MaxOverflow: cfg.Database.MaxOverflow,
		Timeout:     cfg.Database.PoolTimeout.Std(),
		Clock:       clock,
	})
}

// NewFromConfig builds a Coordinator from cfg. A disabled cache gets a
// NoopStore. When the configured server cannot be reached the error is
// returned alongside a usable coordinator so the caller can warn: with
// WithReconnect(true), the default, that coordinator connects on a later call;
// otherwise it is pass-through. Configuration errors return a nil coordinator.
func NewFromConfig(ctx context.Context, cfg config.CacheConfig, opts ...Option) (*Coordinator, error) {
	settings := &Coordinator{logger: zerolog.Nop(), reconnect: true}
	for _, opt := range opts {
		opt(settings)
	}

	base := []Option{WithKeyPrefix(cfg.KeyPrefix), WithCoalescing(cfg.Coalesce)}
	opts = append(base, opts...)

	if !cfg.Enabled {
		return NewCoordinator(NewNoopStore(), false, cfg.TTL.Std(), opts...), nil
	}

	backend, err := NewBackend(ctx, cfg, settings.logger, settings.clock)
	if err != nil {
		if !errors.Is(err, ErrBackendUnavailable) {
			return nil, fmt.Errorf("creating %s cache backend: %w", cfg.Backend, err)
		}
		if !settings.reconnect {
			settings.logger.Warn().Ctx(ctx).Err(err).Str("backend", cfg.Backend).
				Msg("cache backend unavailable, continuing without cache")
			return NewCoordinator(NewNoopStore(), false, cfg.TTL.Std(), opts...), err
		}
		settings.logger.Warn().Ctx(ctx).Err(err).Str("backend", cfg.Backend).
			Msg("cache backend unavailable, will reconnect on use")
		lazy := newLazyBackend(cfg.Backend, func(ctx context.Context) (Backend, error) {
			return openNetworked(ctx, cfg, settings.clock)
		})
		return NewCoordinator(NewGuardedBackend(lazy, settings.logger, GuardConfig{}), true, cfg.TTL.Std(), opts...), err
	}

	return NewCoordinator(backend, true, cfg.TTL.Std(), opts...), nil
}
