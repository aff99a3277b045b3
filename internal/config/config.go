// Package config resolves epsscache settings from defaults, a YAML or TOML
// file, a .env file, EPSS_* environment variables and explicit overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache backend names.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendDatabase = "database"
	BackendMemory   = "memory"
)

// Defaults.
const (
	DefaultTTLSeconds      = 3600
	DefaultKeyPrefix       = "epss"
	DefaultCacheDirectory  = "~/.cache/epss"
	DefaultFileMaxSizeMB   = 100
	DefaultRedisHost       = "localhost"
	DefaultRedisPort       = 6379
	DefaultRedisTimeout    = 5 * time.Second
	DefaultRedisMaxConns   = 10
	DefaultDatabaseURL     = "sqlite:///~/.cache/epss/cache.db"
	DefaultTableName       = "epss_cache"
	DefaultPoolSize        = 5
	DefaultMaxOverflow     = 10
	DefaultPoolTimeout     = 30 * time.Second
	DefaultMemoryMaxSizeMB = 64
	DefaultAPIBaseURL      = "https://api.first.org/data/v1/epss"
	DefaultAPITimeout      = 30 * time.Second
	DefaultAPIRateLimit    = 5
	DefaultAPIMaxRetries   = 3
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
)

// Config is the complete resolved configuration.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"   toml:"cache"   json:"cache"`
	API     APIConfig     `yaml:"api"     toml:"api"     json:"api"`
	Logging LoggingConfig `yaml:"logging" toml:"logging" json:"logging"`
}

// CacheConfig selects and configures the cache backend. It is consumed once to
// build a coordinator; changing it requires building a new one.
type CacheConfig struct {
	Enabled   bool     `yaml:"enabled"    toml:"enabled"    json:"enabled"`
	Backend   string   `yaml:"backend"    toml:"backend"    json:"backend"`
	TTL       Duration `yaml:"ttl"        toml:"ttl"        json:"ttl"`
	KeyPrefix string   `yaml:"key_prefix" toml:"key_prefix" json:"key_prefix"`

	// Compression is the global switch; the file backend compresses only when
	// both this and File.Compression are set.
	Compression bool `yaml:"compression" toml:"compression" json:"compression"`

	// Coalesce collapses concurrent misses for the same key into one fetch.
	Coalesce bool `yaml:"coalesce" toml:"coalesce" json:"coalesce"`

	File     FileConfig     `yaml:"file"     toml:"file"     json:"file"`
	Redis    RedisConfig    `yaml:"redis"    toml:"redis"    json:"redis"`
	Database DatabaseConfig `yaml:"database" toml:"database" json:"database"`
	Memory   MemoryConfig   `yaml:"memory"   toml:"memory"   json:"memory"`
}

// FileConfig configures the file backend.
type FileConfig struct {
	Directory   string `yaml:"directory"   toml:"directory"   json:"directory"`
	MaxSizeMB   int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	Compression bool   `yaml:"compression" toml:"compression" json:"compression"`
}

// RedisConfig configures the key-value server backend.
type RedisConfig struct {
	Host           string   `yaml:"host"            toml:"host"            json:"host"`
	Port           int      `yaml:"port"            toml:"port"            json:"port"`
	DB             int      `yaml:"db"              toml:"db"              json:"db"`
	Password       string   `yaml:"password"        toml:"password"        json:"-"`
	SocketTimeout  Duration `yaml:"socket_timeout"  toml:"socket_timeout"  json:"socket_timeout"`
	MaxConnections int      `yaml:"max_connections" toml:"max_connections" json:"max_connections"`
}

// DatabaseConfig configures the relational backend.
type DatabaseConfig struct {
	URL         string   `yaml:"url"          toml:"url"          json:"url"`
	TableName   string   `yaml:"table_name"   toml:"table_name"   json:"table_name"`
	PoolSize    int      `yaml:"pool_size"    toml:"pool_size"    json:"pool_size"`
	MaxOverflow int      `yaml:"max_overflow" toml:"max_overflow" json:"max_overflow"`
	PoolTimeout Duration `yaml:"pool_timeout" toml:"pool_timeout" json:"pool_timeout"`
}

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	MaxSizeMB int `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
}

// APIConfig configures the EPSS API client.
type APIConfig struct {
	BaseURL    string   `yaml:"base_url"    toml:"base_url"    json:"base_url"`
	Timeout    Duration `yaml:"timeout"     toml:"timeout"     json:"timeout"`
	UserAgent  string   `yaml:"user_agent"  toml:"user_agent"  json:"user_agent"`
	RateLimit  float64  `yaml:"rate_limit"  toml:"rate_limit"  json:"rate_limit"`
	MaxRetries int      `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"  toml:"level"  json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
	File   string `yaml:"file"   toml:"file"   json:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Enabled:     false,
			Backend:     BackendFile,
			TTL:         Duration(DefaultTTLSeconds * time.Second),
			KeyPrefix:   DefaultKeyPrefix,
			Compression: true,
			File: FileConfig{
				Directory:   DefaultCacheDirectory,
				MaxSizeMB:   DefaultFileMaxSizeMB,
				Compression: true,
			},
			Redis: RedisConfig{
				Host:           DefaultRedisHost,
				Port:           DefaultRedisPort,
				SocketTimeout:  Duration(DefaultRedisTimeout),
				MaxConnections: DefaultRedisMaxConns,
			},
			Database: DatabaseConfig{
				URL:         DefaultDatabaseURL,
				TableName:   DefaultTableName,
				PoolSize:    DefaultPoolSize,
				MaxOverflow: DefaultMaxOverflow,
				PoolTimeout: Duration(DefaultPoolTimeout),
			},
			Memory: MemoryConfig{MaxSizeMB: DefaultMemoryMaxSizeMB},
		},
		API: APIConfig{
			BaseURL:    DefaultAPIBaseURL,
			Timeout:    Duration(DefaultAPITimeout),
			RateLimit:  DefaultAPIRateLimit,
			MaxRetries: DefaultAPIMaxRetries,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// FileCompression reports whether the file backend should compress entries.
func (c CacheConfig) FileCompression() bool {
	return c.Compression && c.File.Compression
}

// expandPaths replaces a leading ~ in every path-valued setting.
func (c *Config) expandPaths() {
	c.Cache.File.Directory = ExpandHome(c.Cache.File.Directory)
	c.Logging.File = ExpandHome(c.Logging.File)
	c.Cache.Database.URL = expandDatabaseURL(c.Cache.Database.URL)
}

// ExpandHome replaces a leading "~" with the user's home directory.
// The path is returned unchanged when the home directory is unknown.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
