package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is the dotenv file read from the working directory.
const DefaultEnvFile = ".env"

// LoadOptions controls Load.
type LoadOptions struct {
	// Path is an explicit config file. It must exist.
	Path string

	// SearchPaths replaces DefaultSearchPaths when Path is empty.
	SearchPaths []string

	// EnvFile is read with godotenv; DefaultEnvFile when empty. A missing file is ignored.
	EnvFile string

	// SkipEnvFile disables dotenv loading.
	SkipEnvFile bool

	// LookupEnv reads the environment; os.LookupEnv when nil.
	LookupEnv func(string) (string, bool)

	// Overrides are applied last.
	Overrides Overrides
}

// Overrides are explicit in-process values, typically from CLI flags. Nil
// fields leave the resolved value alone.
type Overrides struct {
	CacheEnabled  *bool
	Backend       *string
	TTL           *time.Duration
	KeyPrefix     *string
	FileDirectory *string
	DatabaseURL   *string
	LogLevel      *string
	LogFormat     *string
	APIBaseURL    *string
}

// Apply writes every set field onto cfg.
func (o Overrides) Apply(cfg *Config) {
	if o.CacheEnabled != nil {
		cfg.Cache.Enabled = *o.CacheEnabled
	}
	if o.Backend != nil {
		cfg.Cache.Backend = *o.Backend
	}
	if o.TTL != nil {
		cfg.Cache.TTL = Duration(*o.TTL)
	}
	if o.KeyPrefix != nil {
		cfg.Cache.KeyPrefix = *o.KeyPrefix
	}
	if o.FileDirectory != nil {
		cfg.Cache.File.Directory = *o.FileDirectory
	}
	if o.DatabaseURL != nil {
		cfg.Cache.Database.URL = *o.DatabaseURL
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
	if o.APIBaseURL != nil {
		cfg.API.BaseURL = *o.APIBaseURL
	}
}

// DefaultSearchPaths lists the config files tried, in order, when no explicit
// path is given.
func DefaultSearchPaths() []string {
	return []string{
		"~/.epss/config.yaml",
		"~/.epss/config.yml",
		"epss.yaml",
		"epss.yml",
		"epss.toml",
	}
}

// Loaded is a resolved configuration and where it came from.
type Loaded struct {
	*Config

	// Source is the config file merged, or "" when only defaults and the
	// environment were used.
	Source string
}

// Load resolves the configuration: defaults, then the config file, then the
// environment (real variables win over the dotenv file), then opts.Overrides.
// The result is validated.
func Load(opts LoadOptions) (*Loaded, error) {
	cfg := Default()

	source, err := resolveConfigFile(opts)
	if err != nil {
		return nil, err
	}
	if source != "" {
		if mergeErr := MergeFile(cfg, source); mergeErr != nil {
			return nil, mergeErr
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if !opts.SkipEnvFile {
		dotenv, dotErr := readEnvFile(opts.EnvFile)
		if dotErr != nil {
			return nil, dotErr
		}
		lookup = withFallback(lookup, dotenv)
	}

	if envErr := ApplyEnv(cfg, lookup); envErr != nil {
		return nil, envErr
	}

	opts.Overrides.Apply(cfg)
	cfg.expandPaths()

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, validateErr
	}

	return &Loaded{Config: cfg, Source: source}, nil
}

func resolveConfigFile(opts LoadOptions) (string, error) {
	if opts.Path != "" {
		path := ExpandHome(opts.Path)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}

	candidates := opts.SearchPaths
	if candidates == nil {
		candidates = DefaultSearchPaths()
	}
	for _, candidate := range candidates {
		path := ExpandHome(candidate)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return filepath.Clean(path), nil
		}
	}
	return "", nil
}

func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		path = DefaultEnvFile
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	return values, nil
}

func withFallback(primary func(string) (string, bool), fallback map[string]string) func(string) (string, bool) {
	if len(fallback) == 0 {
		return primary
	}
	return func(name string) (string, bool) {
		if v, ok := primary(name); ok {
			return v, true
		}
		v, ok := fallback[name]
		return v, ok
	}
}
