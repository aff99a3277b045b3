package cli

import (
	"github.com/spf13/cobra"

	"github.com/rshade/epsscache/internal/logging"
)

// setupLogging configures logging from the resolved config and the --debug
// flag, then attaches the logger and a trace ID to the command context.
func (s *session) setupLogging(cmd *cobra.Command) {
	loggingCfg := s.cfg.Logging
	if s.flags.debug {
		loggingCfg = loggingCfg.WithDebug()
	}

	result := logging.NewLoggerWithPath(loggingCfg.ToLoggingConfig())
	s.logResult = &result
	s.logger = logging.ComponentLogger(result.Logger, "cli")

	if result.UsingFile {
		logging.PrintLogPathMessage(cmd.ErrOrStderr(), result.FilePath)
	} else if result.FallbackUsed {
		logging.PrintFallbackWarning(cmd.ErrOrStderr(), result.FallbackReason)
	}

	ctx := commandContext(cmd)
	traceID := logging.GetOrGenerateTraceID(ctx)
	ctx = logging.ContextWithTraceID(ctx, traceID)
	ctx = s.logger.WithContext(ctx)
	cmd.SetContext(ctx)

	s.logger.Debug().Ctx(ctx).
		Str("command", cmd.CommandPath()).
		Str("config_source", s.cfg.Source).
		Bool("cache_enabled", s.cfg.Cache.Enabled).
		Str("cache_backend", s.cfg.Cache.Backend).
		Msg("command started")
}
