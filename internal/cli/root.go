package cli

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewRootCmd creates the root Cobra command for the epss CLI.
func NewRootCmd(ver string) *cobra.Command {
	return NewRootCmdWithEnv(ver, os.LookupEnv)
}

// NewRootCmdWithEnv creates the root command with an explicit environment
// lookup for testability.
func NewRootCmdWithEnv(ver string, lookupEnv func(string) (string, bool)) *cobra.Command {
	s := &session{lookupEnv: lookupEnv}

	cmd := &cobra.Command{
		Use:           "epss",
		Short:         "FIRST EPSS API client with a read-through cache",
		Long:          "epss queries the FIRST Exploit Prediction Scoring System API and caches responses locally or in a shared backend.",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.flags.validate(); err != nil {
				return err
			}
			if err := s.loadConfig(cmd); err != nil {
				return err
			}
			s.setupLogging(cmd)
			return nil
		},
	}

	s.flags.register(cmd)
	cmd.AddCommand(
		newQueryCmd(s), newGetCmd(s), newBatchCmd(s), newTopCmd(s),
		newCacheCmd(s),
	)
	s.closeAfterRun(cmd)

	return cmd
}

const rootCmdExample = `  # Scores for a single CVE
  epss get CVE-2021-44228

  # Several CVEs at once, as CSV
  epss batch CVE-2021-44228 CVE-2022-22965 --format csv

  # Top 10 CVEs by score
  epss top --limit 10

  # CVEs scoring above 0.95 on a given date
  epss query --epss-gt 0.95 --date 2026-10-01

  # Use the redis cache for this run with a 10 minute TTL
  epss get CVE-2021-44228 --cache-backend redis --cache-ttl 600

  # Bypass the cache
  epss get CVE-2021-44228 --no-cache

  # Inspect and manage the cache
  epss cache stats
  epss cache config
  epss cache prune
  epss cache clear

  # Write an editable config file
  epss cache init`

// newCacheCmd creates the cache command group.
func newCacheCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Cache management commands"}
	cmd.AddCommand(
		newCacheStatsCmd(s), newCacheClearCmd(s), newCachePruneCmd(s),
		newCacheConfigCmd(s), newCacheInitCmd(),
	)
	return cmd
}
