package config

import (
	"errors"
	"net/url"
	"slices"
	"strings"
)

const maxPort = 65535

//nolint:gochecknoglobals // Static lookup tables.
var (
	validBackends  = []string{BackendFile, BackendRedis, BackendDatabase, BackendMemory}
	validLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}
	validLogFormat = []string{"console", "json", "text"}
)

// Validate checks the configuration. Only the selected backend's section is
// checked. All problems are reported; each matches ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(e *ConfigError) { errs = append(errs, e) }

	cache := c.Cache
	if !slices.Contains(validBackends, cache.Backend) {
		add(invalid("cache.backend", cache.Backend, "must be one of "+strings.Join(validBackends, ", ")))
	}
	if strings.TrimSpace(cache.KeyPrefix) == "" {
		add(invalid("cache.key_prefix", nil, "must not be empty"))
	}
	if cache.TTL < 0 {
		add(invalid("cache.ttl", cache.TTL, "must be >= 0"))
	}

	switch cache.Backend {
	case BackendFile:
		if strings.TrimSpace(cache.File.Directory) == "" {
			add(invalid("cache.file.directory", nil, "must not be empty"))
		}
		if cache.File.MaxSizeMB < 0 {
			add(invalid("cache.file.max_size_mb", cache.File.MaxSizeMB, "must be >= 0"))
		}
	case BackendRedis:
		r := cache.Redis
		if strings.TrimSpace(r.Host) == "" {
			add(invalid("cache.redis.host", nil, "must not be empty"))
		}
		if r.Port < 1 || r.Port > maxPort {
			add(invalid("cache.redis.port", r.Port, "must be between 1 and 65535"))
		}
		if r.DB < 0 {
			add(invalid("cache.redis.db", r.DB, "must be >= 0"))
		}
		if r.MaxConnections < 0 {
			add(invalid("cache.redis.max_connections", r.MaxConnections, "must be >= 0"))
		}
		if r.SocketTimeout < 0 {
			add(invalid("cache.redis.socket_timeout", r.SocketTimeout, "must be >= 0"))
		}
	case BackendDatabase:
		d := cache.Database
		if _, err := ParseDatabaseURL(d.URL); err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) {
				add(ce)
			}
		}
		if !ValidTableName(d.TableName) {
			add(invalid("cache.database.table_name", d.TableName, "must be a plain SQL identifier"))
		}
		if d.PoolSize < 0 {
			add(invalid("cache.database.pool_size", d.PoolSize, "must be >= 0"))
		}
		if d.MaxOverflow < 0 {
			add(invalid("cache.database.max_overflow", d.MaxOverflow, "must be >= 0"))
		}
	case BackendMemory:
		if cache.Memory.MaxSizeMB < 0 {
			add(invalid("cache.memory.max_size_mb", cache.Memory.MaxSizeMB, "must be >= 0"))
		}
	}

	api := c.API
	if u, err := url.Parse(api.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add(invalid("api.base_url", api.BaseURL, "must be an absolute http(s) URL"))
	}
	if api.Timeout < 0 {
		add(invalid("api.timeout", api.Timeout, "must be >= 0"))
	}
	if api.RateLimit < 0 {
		add(invalid("api.rate_limit", api.RateLimit, "must be >= 0"))
	}
	if api.MaxRetries < 0 {
		add(invalid("api.max_retries", api.MaxRetries, "must be >= 0"))
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Logging.Level)) {
		add(invalid("logging.level", c.Logging.Level, "unknown level"))
	}
	if !slices.Contains(validLogFormat, strings.ToLower(c.Logging.Format)) {
		add(invalid("logging.format", c.Logging.Format, "must be console or json"))
	}

	return errors.Join(errs...)
}
