package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rshade/epsscache/internal/config"
	"github.com/rshade/epsscache/internal/engine/cache"
	"github.com/rshade/epsscache/internal/epss"
	"github.com/rshade/epsscache/internal/logging"
)

// session carries the state built by the root command for one invocation.
type session struct {
	flags     globalFlags
	lookupEnv func(string) (string, bool)

	cfg       *config.Loaded
	logger    zerolog.Logger
	logResult *logging.LogPathResult

	coordinator *cache.Coordinator
}

// loadConfig resolves the configuration with the explicit flags applied last.
func (s *session) loadConfig(cmd *cobra.Command) error {
	s.flags.capture(cmd)

	loaded, err := config.Load(config.LoadOptions{
		Path:      s.flags.configPath,
		EnvFile:   s.flags.envFile,
		LookupEnv: s.lookupEnv,
		Overrides: s.flags.overrides(),
	})
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	s.cfg = loaded
	return nil
}

// openCache builds the coordinator once per invocation. An unreachable
// backend is reported on stderr and the run continues without caching; a
// single command has nothing to gain from reconnecting later.
func (s *session) openCache(cmd *cobra.Command) (*cache.Coordinator, error) {
	if s.coordinator != nil {
		return s.coordinator, nil
	}
	coordinator, err := cache.NewFromConfig(commandContext(cmd), s.cfg.Cache,
		cache.WithLogger(logging.ComponentLogger(s.logger, "cache")),
		cache.WithReconnect(false))
	switch {
	case errors.Is(err, cache.ErrBackendUnavailable):
		cmd.PrintErrf("Warning: cache backend %s unavailable, continuing without cache: %v\n",
			s.cfg.Cache.Backend, err)
	case err != nil:
		return nil, err
	}

	s.coordinator = coordinator
	return coordinator, nil
}

// openClient builds the cached API client.
func (s *session) openClient(cmd *cobra.Command) (*epss.CachedClient, error) {
	coordinator, err := s.openCache(cmd)
	if err != nil {
		return nil, err
	}

	client, err := epss.NewClient(s.cfg.API, epss.WithClientLogger(logging.ComponentLogger(s.logger, "api")))
	if err != nil {
		return nil, err
	}
	return epss.NewCachedClient(client, coordinator), nil
}

// closeAfterRun wraps the RunE of cmd and its subcommands so the session is
// closed whether or not the command fails. Cobra skips post-run hooks after
// an error.
func (s *session) closeAfterRun(cmd *cobra.Command) {
	for _, sub := range cmd.Commands() {
		s.closeAfterRun(sub)
	}
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		defer func() { err = errors.Join(err, s.close()) }()
		return run(cmd, args)
	}
}

// close releases the coordinator and the log file.
func (s *session) close() error {
	var errs []error
	if s.coordinator != nil {
		errs = append(errs, s.coordinator.Close())
		s.coordinator = nil
	}
	errs = append(errs, s.logResult.Close())
	return errors.Join(errs...)
}

// commandContext returns the command context, never nil.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
