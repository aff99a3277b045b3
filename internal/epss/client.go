package epss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rshade/epsscache/internal/config"
)

// DefaultUserAgent identifies the client to the API.
const DefaultUserAgent = "epsscache (+https://api.first.org/epss)"

const (
	maxResponseBytes     = 32 << 20
	maxErrorBodyBytes    = 512
	defaultRetryInterval = 500 * time.Millisecond
)

// ErrInvalidResponse is returned when the API answers with a body that is not JSON.
var ErrInvalidResponse = errors.New("epss api returned invalid JSON")

// APIError is a non-success HTTP status from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("epss api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("epss api returned status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether a retry could succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Fetcher returns raw response bodies for a query.
type Fetcher interface {
	Fetch(ctx context.Context, p Params) ([]byte, error)
}

// Client talks to the EPSS API. Requests are rate limited and 429 or 5xx
// answers are retried with exponential backoff.
type Client struct {
	baseURL       string
	userAgent     string
	httpClient    *http.Client
	limiter       *rate.Limiter
	maxRetries    int
	retryInterval time.Duration
	logger        zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client. Its timeout takes precedence.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientLogger sets the logger used for retry notices.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRetryInterval sets the first backoff interval.
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.retryInterval = d }
}

// NewClient creates a Client from the api section of the configuration.
func NewClient(cfg config.APIConfig, opts ...ClientOption) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = config.DefaultAPIBaseURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &config.ConfigError{Field: "api.base_url", Value: base, Reason: "must be an absolute URL"}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	c := &Client{
		baseURL:       u.String(),
		userAgent:     userAgent,
		httpClient:    &http.Client{Timeout: cfg.Timeout.Std()},
		limiter:       rate.NewLimiter(limit, 1),
		maxRetries:    max(cfg.MaxRetries, 0),
		retryInterval: defaultRetryInterval,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch performs a GET for p and returns the raw JSON body.
func (c *Client) Fetch(ctx context.Context, p Params) ([]byte, error) {
	target := c.baseURL
	if q := p.Values().Encode(); q != "" {
		target += "?" + q
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		return c.do(ctx, target)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Ctx(ctx).Err(err).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("epss api request failed, retrying")
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxRetries+1)), //nolint:gosec // maxRetries is clamped to >= 0
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Ctx(ctx).Str("url", target).Int("attempts", attempt).Int("bytes", len(body)).
		Msg("epss api request completed")
	return body, nil
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("requesting %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBodyBytes)}
		if apiErr.Temporary() {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	}

	if !json.Valid(body) {
		return nil, backoff.Permanent(ErrInvalidResponse)
	}
	return body, nil
}

// Query fetches and decodes p.
func (c *Client) Query(ctx context.Context, p Params) (*Response, error) {
	body, err := c.Fetch(ctx, p)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
