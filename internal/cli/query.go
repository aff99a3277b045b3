package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rshade/epsscache/internal/epss"
	"github.com/rshade/epsscache/internal/logging"
)

// queryFlags are the API parameters shared by the query commands.
type queryFlags struct {
	date          string
	scope         string
	order         string
	epssGT        float64
	percentileGT  float64
	limit         int
	offset        int
	envelope      bool
	pretty        bool
	withFilters   bool
	withPaginated bool
}

func (q *queryFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&q.date, "date", "", "score date (YYYY-MM-DD)")
	f.StringVar(&q.scope, "scope", "", "result scope: time-series")
	f.BoolVar(&q.envelope, "envelope", false, "request the response envelope")
	f.BoolVar(&q.pretty, "pretty", false, "request pretty-printed JSON from the API")
	if q.withFilters {
		f.StringVar(&q.order, "order", "", "sort expression, e.g. !epss")
		f.Float64Var(&q.epssGT, "epss-gt", 0, "only CVEs with a score above this value")
		f.Float64Var(&q.percentileGT, "percentile-gt", 0, "only CVEs with a percentile above this value")
	}
	if q.withPaginated {
		f.IntVar(&q.limit, "limit", 0, "maximum number of records")
		f.IntVar(&q.offset, "offset", 0, "number of records to skip")
	}
}

// params builds API parameters; unset optional flags stay nil.
func (q *queryFlags) params(cmd *cobra.Command) (epss.Params, error) {
	p := epss.Params{
		Date:     q.date,
		Scope:    q.scope,
		Order:    q.order,
		Envelope: q.envelope,
		Pretty:   q.pretty,
	}

	if q.date != "" {
		if _, err := time.Parse(time.DateOnly, q.date); err != nil {
			return epss.Params{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", q.date)
		}
	}
	if q.scope != "" && q.scope != epss.ScopeTimeSeries {
		return epss.Params{}, fmt.Errorf("invalid --scope %q: only %s is supported", q.scope, epss.ScopeTimeSeries)
	}

	flags := cmd.Flags()
	if flags.Changed("epss-gt") {
		p.EPSSGreaterThan = epss.Float(q.epssGT)
	}
	if flags.Changed("percentile-gt") {
		p.PercentileGreaterThan = epss.Float(q.percentileGT)
	}
	if flags.Changed("limit") {
		if q.limit < 0 {
			return epss.Params{}, fmt.Errorf("--limit must be >= 0, got %d", q.limit)
		}
		p.Limit = epss.Int(q.limit)
	}
	if flags.Changed("offset") {
		if q.offset < 0 {
			return epss.Params{}, fmt.Errorf("--offset must be >= 0, got %d", q.offset)
		}
		p.Offset = epss.Int(q.offset)
	}
	return p, nil
}

// newQueryCmd creates the query command.
func newQueryCmd(s *session) *cobra.Command {
	q := &queryFlags{withFilters: true, withPaginated: true}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a generic EPSS query",
		Example: `  # Most recent scores, first page
  epss query --limit 100

  # CVEs above the 95th percentile
  epss query --percentile-gt 0.95 --order '!epss'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := q.params(cmd)
			if err != nil {
				return err
			}
			return s.runLookup(cmd, "query", func(client *epss.CachedClient) (*epss.Response, error) {
				return client.Query(commandContext(cmd), p, s.flags.lookupOptions()...)
			})
		},
	}
	q.register(cmd)
	return cmd
}

func newGetCmd(s *session) *cobra.Command {
	q := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "get <cve>",
		Short: "Get the score of a single CVE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := q.params(cmd)
			if err != nil {
				return err
			}
			return s.runLookup(cmd, "get", func(client *epss.CachedClient) (*epss.Response, error) {
				return client.Get(commandContext(cmd), args[0], p, s.flags.lookupOptions()...)
			})
		},
	}
	q.register(cmd)
	return cmd
}

func newBatchCmd(s *session) *cobra.Command {
	q := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "batch <cve>...",
		Short: "Get the scores of several CVEs",
		Long: `Get the scores of several CVEs.

Each CVE is cached on its own, so CVEs already fetched by an earlier batch are
served from the cache and only the rest are requested from the API.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := q.params(cmd)
			if err != nil {
				return err
			}
			return s.runLookup(cmd, "batch", func(client *epss.CachedClient) (*epss.Response, error) {
				return client.Batch(commandContext(cmd), args, p, s.flags.lookupOptions()...)
			})
		},
	}
	q.register(cmd)
	return cmd
}

func newTopCmd(s *session) *cobra.Command {
	q := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "top",
		Short: "List the CVEs with the highest scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := q.params(cmd)
			if err != nil {
				return err
			}
			return s.runLookup(cmd, "top", func(client *epss.CachedClient) (*epss.Response, error) {
				return client.Top(commandContext(cmd), p, s.flags.lookupOptions()...)
			})
		},
	}
	q.register(cmd)
	cmd.Flags().StringVar(&q.order, "order", epss.DefaultTopOrder, "sort expression")
	cmd.Flags().IntVar(&q.limit, "limit", epss.DefaultTopLimit, "maximum number of records")
	cmd.Flags().IntVar(&q.offset, "offset", 0, "number of records to skip")
	return cmd
}

// runLookup opens the client, runs fn and renders the response.
func (s *session) runLookup(cmd *cobra.Command, op string, fn func(*epss.CachedClient) (*epss.Response, error)) error {
	ctx := commandContext(cmd)
	log := logging.FromContext(ctx)

	client, err := s.openClient(cmd)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := fn(client)
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Str("operation", op).Msg("epss lookup failed")
		return fmt.Errorf("%s: %w", op, err)
	}

	stats := client.Cache().Stats()
	log.Debug().Ctx(ctx).
		Str("operation", op).
		Int("records", len(resp.Data)).
		Int64("cache_hits", stats.Hits).
		Int64("cache_misses", stats.Misses).
		Dur("elapsed", time.Since(start)).
		Msg("epss lookup completed")

	return writeResponse(cmd.OutOrStdout(), resolveFormat(s.flags.format, cmd.OutOrStdout()), resp)
}
