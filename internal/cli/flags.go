package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rshade/epsscache/internal/config"
	"github.com/rshade/epsscache/internal/engine/cache"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	debug        bool
	configPath   string
	envFile      string
	cacheBackend string
	cacheTTL     int
	noCache      bool
	format       string

	backendSet bool
	ttlSet     bool
}

func (f *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.BoolVar(&f.debug, "debug", false, "enable debug logging")
	pf.StringVar(&f.configPath, "cache-config", "", "path to a YAML or TOML configuration file")
	pf.StringVar(&f.envFile, "env-file", config.DefaultEnvFile, "dotenv file with EPSS_* variables")
	pf.StringVar(&f.cacheBackend, "cache-backend", "",
		"cache backend for this run: file, redis, database, memory (enables the cache)")
	pf.IntVar(&f.cacheTTL, "cache-ttl", 0, "cache TTL in seconds for this run; 0 skips the cache (enables the cache)")
	pf.BoolVar(&f.noCache, "no-cache", false, "bypass the cache entirely")
	pf.StringVar(&f.format, "format", "", "output format: json, csv or table (default table on a terminal, json otherwise)")

	_ = cmd.RegisterFlagCompletionFunc("format",
		cobra.FixedCompletions([]string{formatJSON, formatCSV, formatTable}, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("cache-backend",
		cobra.FixedCompletions([]string{
			config.BackendFile, config.BackendRedis, config.BackendDatabase, config.BackendMemory,
		}, cobra.ShellCompDirectiveNoFileComp))
}

// capture records which flags were set explicitly.
func (f *globalFlags) capture(cmd *cobra.Command) {
	f.backendSet = cmd.Flags().Changed("cache-backend")
	f.ttlSet = cmd.Flags().Changed("cache-ttl")
}

func (f *globalFlags) validate() error {
	if f.cacheTTL < 0 {
		return fmt.Errorf("cache-ttl must be >= 0, got %d", f.cacheTTL)
	}
	switch f.format {
	case "", formatJSON, formatCSV, formatTable:
	default:
		return fmt.Errorf("unsupported format %q: use json, csv or table", f.format)
	}
	return nil
}

// overrides turns explicit flags into configuration overrides. Choosing a
// backend or TTL turns the cache on; --no-cache wins over both.
func (f *globalFlags) overrides() config.Overrides {
	var o config.Overrides
	enabled := true
	if f.backendSet {
		backend := f.cacheBackend
		o.Backend = &backend
		o.CacheEnabled = &enabled
	}
	if f.ttlSet {
		ttl := time.Duration(f.cacheTTL) * time.Second
		o.TTL = &ttl
		o.CacheEnabled = &enabled
	}
	if f.noCache {
		disabled := false
		o.CacheEnabled = &disabled
	}
	return o
}

// lookupOptions are the per-call cache options implied by the flags.
func (f *globalFlags) lookupOptions() []cache.LookupOption {
	var opts []cache.LookupOption
	if f.noCache {
		opts = append(opts, cache.WithUseCache(false))
	}
	if f.ttlSet {
		opts = append(opts, cache.WithTTL(time.Duration(f.cacheTTL)*time.Second))
	}
	return opts
}
