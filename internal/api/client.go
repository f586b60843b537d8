package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/model"
	"github.com/rickgao/ohlcv-ingest/internal/ratelimit"
	"github.com/rickgao/ohlcv-ingest/internal/retry"
)

// Default retry budgets.
var (
	DefaultTransientPolicy   = retry.Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second, JitterPercent: 10}
	DefaultRateLimitedPolicy = retry.Policy{MaxAttempts: 10, BaseDelay: 5 * time.Second, MaxDelay: 2 * time.Minute, JitterPercent: 10}
)

// Client provides access to the exchange REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *ratelimit.Coordinator

	attemptTimeout    time.Duration
	transientPolicy   retry.Policy
	rateLimitedPolicy retry.Policy
	notify            func(retry.Event)
	retrier           *retry.Retrier
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:            slog.Default(),
		transientPolicy:   DefaultTransientPolicy,
		rateLimitedPolicy: DefaultRateLimitedPolicy,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.limiter == nil {
		c.limiter = ratelimit.New(0, 1)
	}
	c.retrier = retry.New([]retry.Rule{
		{Kind: model.ErrRateLimited, Policy: c.rateLimitedPolicy},
		{Kind: model.ErrTransientFetch, Policy: c.transientPolicy},
	}, retry.WithNotify(c.onRetry))

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithAttemptTimeout bounds each request attempt. An attempt that runs out of time
// is treated as a transient failure and retried.
func WithAttemptTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.attemptTimeout = d
	}
}

// WithRetries sets the retry budgets for transient and rate-limited failures.
func WithRetries(transient, rateLimited retry.Policy) ClientOption {
	return func(c *Client) {
		c.transientPolicy = transient
		c.rateLimitedPolicy = rateLimited
	}
}

// WithRetryNotify registers a callback invoked before every retry.
func WithRetryNotify(fn func(retry.Event)) ClientOption {
	return func(c *Client) {
		c.notify = fn
	}
}

// WithRateLimiter shares a request coordinator between clients and workers.
func WithRateLimiter(l *ratelimit.Coordinator) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func (c *Client) onRetry(e retry.Event) {
	c.logger.Debug("retrying request",
		"op", e.Op,
		"attempt", e.Attempt,
		"backoff", e.Delay,
		"error", e.Err,
	)
	if c.notify != nil {
		c.notify(e)
	}
}
