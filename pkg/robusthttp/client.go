package robusthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Adapts slog to the retryablehttp leveled logger interface. Errors are demoted to WARN, since most are followed by a retry.
type leveledSlog struct {
	inner *slog.Logger
}

func (l leveledSlog) Error(msg string, keysAndValues ...any) { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Warn(msg string, keysAndValues ...any)  { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Info(msg string, keysAndValues ...any)  { l.inner.Info(msg, keysAndValues...) }
func (l leveledSlog) Debug(msg string, keysAndValues ...any) { l.inner.Debug(msg, keysAndValues...) }

type config struct {
	logger    *slog.Logger
	retryMax  int
	waitMin   time.Duration
	waitMax   time.Duration
	timeout   time.Duration
	userAgent string
	transport http.RoundTripper
}

type Option func(*config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.retryMax = n
	}
}

func WithRetryWait(min, max time.Duration) Option {
	return func(c *config) {
		c.waitMin = min
		c.waitMax = max
	}
}

// Overall timeout for a request, including retries.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

func WithUserAgent(ua string) Option {
	return func(c *config) {
		c.userAgent = ua
	}
}

// Replaces the pooled default transport (eg, with an httptest server's transport).
func WithTransport(t http.RoundTripper) Option {
	return func(c *config) {
		c.transport = t
	}
}

type userAgentTransport struct {
	inner http.RoundTripper
	ua    string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.inner.RoundTrip(req)
}

// Returns a stdlib http.Client which retries connection errors and 5xx responses (except 501), with traced, pooled connections.
//
// 429 responses are not retried: callers decide how to handle rate limits.
func NewClient(options ...Option) *http.Client {
	c := config{
		logger:   slog.Default(),
		retryMax: 3,
		waitMin:  1 * time.Second,
		waitMax:  10 * time.Second,
		timeout:  30 * time.Second,
	}
	for _, opt := range options {
		opt(&c)
	}

	transport := c.transport
	if transport == nil {
		transport = cleanhttp.DefaultPooledTransport()
	}
	transport = otelhttp.NewTransport(transport)
	if c.userAgent != "" {
		transport = &userAgentTransport{inner: transport, ua: c.userAgent}
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = transport
	retryClient.RetryMax = c.retryMax
	retryClient.RetryWaitMin = c.waitMin
	retryClient.RetryWaitMax = c.waitMax
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: c.logger.With("subsystem", "RobustHTTPClient")})
	retryClient.CheckRetry = RetryPolicy

	client := retryClient.StandardClient()
	client.Timeout = c.timeout
	return client
}

// Wraps retryablehttp.DefaultRetryPolicy, treating 429 as non-retryable.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
