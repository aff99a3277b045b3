package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variable prefixes.
const (
	EnvCachePrefix = "EPSS_CACHE_"
	EnvAPIPrefix   = "EPSS_API_"
	EnvLogPrefix   = "EPSS_LOG_"
)

type envBinding struct {
	name  string
	apply func(cfg *Config, value string) error
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

func boolVar(name string, dst func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return invalid(name, v, "must be a boolean")
		}
		*dst(cfg) = b
		return nil
	}
}

func intVar(name string, dst func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return invalid(name, v, "must be an integer")
		}
		*dst(cfg) = n
		return nil
	}
}

func floatVar(name string, dst func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return invalid(name, v, "must be a number")
		}
		*dst(cfg) = f
		return nil
	}
}

func durationVar(name string, dst func(*Config) *Duration) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return invalid(name, v, err.Error())
		}
		*dst(cfg) = d
		return nil
	}
}

// envBindings lists every supported variable in application order.
//
//nolint:gochecknoglobals // Static lookup table.
var envBindings = []envBinding{
	{"EPSS_CACHE_ENABLED", boolVar("EPSS_CACHE_ENABLED", func(c *Config) *bool { return &c.Cache.Enabled })},
	{"EPSS_CACHE_BACKEND", stringVar(func(c *Config) *string { return &c.Cache.Backend })},
	{"EPSS_CACHE_TTL", durationVar("EPSS_CACHE_TTL", func(c *Config) *Duration { return &c.Cache.TTL })},
	{"EPSS_CACHE_KEY_PREFIX", stringVar(func(c *Config) *string { return &c.Cache.KeyPrefix })},
	{"EPSS_CACHE_COMPRESSION", boolVar("EPSS_CACHE_COMPRESSION", func(c *Config) *bool { return &c.Cache.Compression })},
	{"EPSS_CACHE_COALESCE", boolVar("EPSS_CACHE_COALESCE", func(c *Config) *bool { return &c.Cache.Coalesce })},

	{"EPSS_CACHE_FILE_DIRECTORY", stringVar(func(c *Config) *string { return &c.Cache.File.Directory })},
	{"EPSS_CACHE_FILE_MAX_SIZE_MB", intVar("EPSS_CACHE_FILE_MAX_SIZE_MB", func(c *Config) *int { return &c.Cache.File.MaxSizeMB })},
	{"EPSS_CACHE_FILE_COMPRESSION", boolVar("EPSS_CACHE_FILE_COMPRESSION", func(c *Config) *bool { return &c.Cache.File.Compression })},

	{"EPSS_CACHE_REDIS_HOST", stringVar(func(c *Config) *string { return &c.Cache.Redis.Host })},
	{"EPSS_CACHE_REDIS_PORT", intVar("EPSS_CACHE_REDIS_PORT", func(c *Config) *int { return &c.Cache.Redis.Port })},
	{"EPSS_CACHE_REDIS_DB", intVar("EPSS_CACHE_REDIS_DB", func(c *Config) *int { return &c.Cache.Redis.DB })},
	{"EPSS_CACHE_REDIS_PASSWORD", stringVar(func(c *Config) *string { return &c.Cache.Redis.Password })},
	{"EPSS_CACHE_REDIS_SOCKET_TIMEOUT", durationVar("EPSS_CACHE_REDIS_SOCKET_TIMEOUT", func(c *Config) *Duration { return &c.Cache.Redis.SocketTimeout })},
	{"EPSS_CACHE_REDIS_MAX_CONNECTIONS", intVar("EPSS_CACHE_REDIS_MAX_CONNECTIONS", func(c *Config) *int { return &c.Cache.Redis.MaxConnections })},

	{"EPSS_CACHE_DATABASE_URL", stringVar(func(c *Config) *string { return &c.Cache.Database.URL })},
	{"EPSS_CACHE_DATABASE_TABLE", stringVar(func(c *Config) *string { return &c.Cache.Database.TableName })},
	{"EPSS_CACHE_DATABASE_POOL_SIZE", intVar("EPSS_CACHE_DATABASE_POOL_SIZE", func(c *Config) *int { return &c.Cache.Database.PoolSize })},
	{"EPSS_CACHE_DATABASE_MAX_OVERFLOW", intVar("EPSS_CACHE_DATABASE_MAX_OVERFLOW", func(c *Config) *int { return &c.Cache.Database.MaxOverflow })},
	{"EPSS_CACHE_DATABASE_POOL_TIMEOUT", durationVar("EPSS_CACHE_DATABASE_POOL_TIMEOUT", func(c *Config) *Duration { return &c.Cache.Database.PoolTimeout })},

	{"EPSS_CACHE_MEMORY_MAX_SIZE_MB", intVar("EPSS_CACHE_MEMORY_MAX_SIZE_MB", func(c *Config) *int { return &c.Cache.Memory.MaxSizeMB })},

	{"EPSS_API_BASE_URL", stringVar(func(c *Config) *string { return &c.API.BaseURL })},
	{"EPSS_API_TIMEOUT", durationVar("EPSS_API_TIMEOUT", func(c *Config) *Duration { return &c.API.Timeout })},
	{"EPSS_API_USER_AGENT", stringVar(func(c *Config) *string { return &c.API.UserAgent })},
	{"EPSS_API_RATE_LIMIT", floatVar("EPSS_API_RATE_LIMIT", func(c *Config) *float64 { return &c.API.RateLimit })},
	{"EPSS_API_MAX_RETRIES", intVar("EPSS_API_MAX_RETRIES", func(c *Config) *int { return &c.API.MaxRetries })},

	{"EPSS_LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Logging.Level })},
	{"EPSS_LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Logging.Format })},
	{"EPSS_LOG_FILE", stringVar(func(c *Config) *string { return &c.Logging.File })},
}

// ApplyEnv overlays every set EPSS_* variable onto cfg. Empty values are
// treated as unset.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			return fmt.Errorf("applying %s: %w", b.name, err)
		}
	}
	return nil
}

// EnvNames returns the names of every supported variable.
func EnvNames() []string {
	names := make([]string, 0, len(envBindings))
	for _, b := range envBindings {
		names = append(names, b.name)
	}
	return names
}
