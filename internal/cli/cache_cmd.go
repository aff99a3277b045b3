package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rshade/epsscache/internal/config"
	"github.com/rshade/epsscache/internal/engine/cache"
	"github.com/rshade/epsscache/internal/logging"
)

// errCacheDisabled is returned by cache commands when there is no cache to act on.
var errCacheDisabled = errors.New("cache is disabled or not configured")

// statsView is the JSON shape of `cache stats`.
type statsView struct {
	Backend       string  `json:"backend"`
	Enabled       bool    `json:"enabled"`
	TTLSeconds    float64 `json:"ttl_seconds"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Sets          int64   `json:"sets"`
	Deletes       int64   `json:"deletes"`
	Evictions     int64   `json:"evictions"`
	Errors        int64   `json:"errors"`
	HitRate       float64 `json:"hit_rate"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Entries       int64   `json:"entries"`
	Bytes         int64   `json:"bytes"`
}

func newStatsView(s cache.StatsSnapshot, usage cache.BackendSize) statsView {
	return statsView{
		Backend:       s.Backend,
		Enabled:       s.Enabled,
		TTLSeconds:    s.TTL.Seconds(),
		Hits:          s.Hits,
		Misses:        s.Misses,
		Sets:          s.Sets,
		Deletes:       s.Deletes,
		Evictions:     s.Evictions,
		Errors:        s.Errors,
		HitRate:       s.HitRate,
		UptimeSeconds: s.Uptime.Seconds(),
		Entries:       usage.Entries,
		Bytes:         usage.Bytes,
	}
}

func (v statsView) fields() []field {
	p := message.NewPrinter(language.English)
	count := func(n int64) string { return p.Sprintf("%d", n) }

	return []field{
		{"backend", v.Backend},
		{"enabled", strconv.FormatBool(v.Enabled)},
		{"ttl", cache.FormatDuration(secondsToDuration(v.TTLSeconds))},
		{"entries", count(v.Entries)},
		{"size", humanize.IBytes(uint64(max(v.Bytes, 0)))},
		{"hits", count(v.Hits)},
		{"misses", count(v.Misses)},
		{"hit_rate", p.Sprintf("%.1f%%", v.HitRate*100)},
		{"sets", count(v.Sets)},
		{"deletes", count(v.Deletes)},
		{"evictions", count(v.Evictions)},
		{"errors", count(v.Errors)},
	}
}

func newCacheStatsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics and backend usage",
		Long: `Show cache statistics and backend usage.

Hit and miss counters cover the current process only; entries and size
describe what the backend holds right now.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coordinator, err := s.enabledCache(cmd)
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			usage, err := coordinator.Usage(ctx)
			if err != nil {
				logging.FromContext(ctx).Warn().Ctx(ctx).Err(err).Msg("cannot read cache usage")
			}

			view := newStatsView(coordinator.Stats(), usage)
			out := cmd.OutOrStdout()
			return writeFields(out, resolveFormat(s.flags.format, out), view.fields(), view)
		},
	}
}

func newCacheClearCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coordinator, err := s.enabledCache(cmd)
			if err != nil {
				return err
			}
			if err := coordinator.Clear(commandContext(cmd)); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			cmd.Println("Cache cleared successfully")
			return nil
		},
	}
}

// expiredCleaner is implemented by backends that keep stale entries until
// they are explicitly removed.
type expiredCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

func newCachePruneCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove expired entries from backends that do not expire them on their own",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coordinator, err := s.enabledCache(cmd)
			if err != nil {
				return err
			}
			cleaner, ok := coordinator.Backend().(expiredCleaner)
			if !ok {
				cmd.Printf("The %s backend expires entries on its own; nothing to prune\n", coordinator.Backend().Name())
				return nil
			}
			removed, err := cleaner.CleanupExpired(commandContext(cmd))
			if err != nil {
				return fmt.Errorf("failed to prune cache: %w", err)
			}
			cmd.Printf("Removed %d expired entries\n", removed)
			return nil
		},
	}
}

func newCacheConfigCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved cache configuration",
		Long: `Show the resolved cache configuration after defaults, the config file,
the environment and flags have been applied. Only the section of the selected
backend is shown; passwords are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			view := newConfigView(s.cfg)
			out := cmd.OutOrStdout()
			return writeFields(out, resolveFormat(s.flags.format, out), view.fields(), view)
		},
	}
}

// enabledCache opens the coordinator and fails when caching is off.
func (s *session) enabledCache(cmd *cobra.Command) (*cache.Coordinator, error) {
	coordinator, err := s.openCache(cmd)
	if err != nil {
		return nil, err
	}
	if !coordinator.Enabled() {
		return nil, errCacheDisabled
	}
	return coordinator, nil
}

// configView is the JSON shape of `cache config`.
type configView struct {
	Source      string                 `json:"source,omitempty"`
	Enabled     bool                   `json:"enabled"`
	Backend     string                 `json:"backend"`
	TTLSeconds  float64                `json:"ttl_seconds"`
	KeyPrefix   string                 `json:"key_prefix"`
	Compression bool                   `json:"compression"`
	Coalesce    bool                   `json:"coalesce"`
	File        *config.FileConfig     `json:"file,omitempty"`
	Redis       *config.RedisConfig    `json:"redis,omitempty"`
	Database    *config.DatabaseConfig `json:"database,omitempty"`
	Memory      *config.MemoryConfig   `json:"memory,omitempty"`
}

func newConfigView(loaded *config.Loaded) configView {
	c := loaded.Cache
	v := configView{
		Source:      loaded.Source,
		Enabled:     c.Enabled,
		Backend:     c.Backend,
		TTLSeconds:  c.TTL.Std().Seconds(),
		KeyPrefix:   c.KeyPrefix,
		Compression: c.Compression,
		Coalesce:    c.Coalesce,
	}

	switch c.Backend {
	case config.BackendFile:
		v.File = &c.File
	case config.BackendRedis:
		v.Redis = &c.Redis
	case config.BackendDatabase:
		db := c.Database
		db.URL = config.RedactURL(db.URL)
		v.Database = &db
	case config.BackendMemory:
		v.Memory = &c.Memory
	}
	return v
}

func (v configView) fields() []field {
	fields := []field{
		{"source", v.Source},
		{"enabled", strconv.FormatBool(v.Enabled)},
		{"backend", v.Backend},
		{"ttl", cache.FormatDuration(secondsToDuration(v.TTLSeconds))},
		{"key_prefix", v.KeyPrefix},
		{"compression", strconv.FormatBool(v.Compression)},
		{"coalesce", strconv.FormatBool(v.Coalesce)},
	}
	if v.Source == "" {
		fields[0].Value = "(defaults and environment)"
	}

	switch {
	case v.File != nil:
		fields = append(fields,
			field{"file.directory", v.File.Directory},
			field{"file.max_size_mb", strconv.Itoa(v.File.MaxSizeMB)},
			field{"file.compression", strconv.FormatBool(v.File.Compression)},
		)
	case v.Redis != nil:
		fields = append(fields,
			field{"redis.host", v.Redis.Host},
			field{"redis.port", strconv.Itoa(v.Redis.Port)},
			field{"redis.db", strconv.Itoa(v.Redis.DB)},
			field{"redis.socket_timeout", v.Redis.SocketTimeout.String()},
			field{"redis.max_connections", strconv.Itoa(v.Redis.MaxConnections)},
		)
	case v.Database != nil:
		fields = append(fields,
			field{"database.url", v.Database.URL},
			field{"database.table_name", v.Database.TableName},
			field{"database.pool_size", strconv.Itoa(v.Database.PoolSize)},
			field{"database.max_overflow", strconv.Itoa(v.Database.MaxOverflow)},
			field{"database.pool_timeout", v.Database.PoolTimeout.String()},
		)
	case v.Memory != nil:
		fields = append(fields, field{"memory.max_size_mb", strconv.Itoa(v.Memory.MaxSizeMB)})
	}
	return fields
}
