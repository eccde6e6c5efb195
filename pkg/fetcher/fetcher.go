package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/platinummonkey/traffic-stats/pkg/observability"
	"github.com/platinummonkey/traffic-stats/pkg/retry"
	"github.com/platinummonkey/traffic-stats/pkg/traffic"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const tracerName = "github.com/platinummonkey/traffic-stats/pkg/fetcher"

// Config configures a Client
type Config struct {
	Owner   string
	Token   string
	BaseURL string
	Timeout time.Duration
	Retry   retry.Policy

	CacheEnabled bool
	CacheSize    int
	CacheTTL     time.Duration
}

// Client fetches traffic payloads for the repositories of one owner
type Client struct {
	gh      *github.Client
	owner   string
	policy  *retry.Policy
	timeout time.Duration
	cache   *Cache
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	sleep   retry.Sleeper
	now     func() time.Time
}

// Option configures optional Client behavior
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// WithTracerProvider sets the tracer provider used for fetch spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithSleeper replaces the function used to wait between attempts
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Client) {
		c.sleep = s
	}
}

// WithClock replaces the clock used to compute rate limit waits
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithCache replaces the response cache. Nil disables caching.
func WithCache(cache *Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// New creates a Client with bearer auth against the configured API base URL
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var transport http.RoundTripper = otelhttp.NewTransport(http.DefaultTransport)
	if cfg.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
			Base:   transport,
		}
	}

	// Each attempt is bounded by its own context in fetchOnce
	gh := github.NewClient(&http.Client{Transport: transport})
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL: %w", err)
		}
		gh.BaseURL = u
	}

	c := &Client{
		gh:      gh,
		owner:   cfg.Owner,
		policy:  retry.NewPolicy(cfg.Retry),
		timeout: cfg.Timeout,
		logger:  observability.NopLogger(),
		tracer:  otel.Tracer(tracerName),
		sleep:   retry.SleepContext,
		now:     time.Now,
	}
	if cfg.CacheEnabled {
		c.cache = NewCache(cfg.CacheSize, cfg.CacheTTL)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Owner returns the repository owner the client fetches for
func (c *Client) Owner() string {
	return c.owner
}

// Endpoint returns the API path of a metric for logging
func (c *Client) Endpoint(repository string, metric traffic.Metric) string {
	return fmt.Sprintf("repos/%s/%s/%s", c.owner, repository, metric.Endpoint())
}

// Fetch retrieves one traffic payload. A nil payload with a nil error means "no data".
func (c *Client) Fetch(ctx context.Context, repository string, metric traffic.Metric) (traffic.Payload, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: %q", traffic.ErrUnknownMetric, string(metric))
	}

	key := cacheKey(c.owner, repository, metric)
	if c.cache != nil {
		if payload, ok := c.cache.Get(key); ok {
			c.metrics.RecordCacheHit(metric.String())
			return payload, nil
		}
		c.metrics.RecordCacheMiss(metric.String())
	}

	ctx, span := c.tracer.Start(ctx, "fetcher.Fetch", trace.WithAttributes(
		attribute.String("traffic.owner", c.owner),
		attribute.String("traffic.repository", repository),
		attribute.String("traffic.metric", metric.String()),
	))
	defer span.End()

	logger := observability.FromContext(ctx, c.logger).WithFields(map[string]interface{}{
		"metric":   metric.String(),
		"endpoint": c.Endpoint(repository, metric),
	})
	if observability.GetRepository(ctx) == "" {
		logger = logger.WithField("repository", repository)
	}

	start := time.Now()
	var payload traffic.Payload
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		p, err := c.fetchOnce(ctx, repository, metric)
		if err != nil {
			return c.classify(ctx, repository, metric, err)
		}
		payload = p
		return nil
	}, retryable,
		retry.WithSleeper(c.sleep),
		retry.WithNow(c.now),
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			var waitErr *retry.WaitError
			rateLimited := errors.As(err, &waitErr)
			c.metrics.RecordRetry(metric.String(), rateLimited)
			logger.WithError(err).WithFields(map[string]interface{}{
				"attempt":      attempt,
				"delay":        delay.String(),
				"rate_limited": rateLimited,
			}).Warn("Retrying traffic request")
		}),
	)
	duration := time.Since(start)

	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.NotFound() {
			logger.Info("No traffic data (404)")
			c.metrics.RecordFetch(metric.String(), "not_found", duration)
			c.store(key, nil)
			return nil, nil
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var tErr *transportError
		if errors.As(err, &tErr) {
			c.metrics.RecordFetch(metric.String(), "transport_error", duration)
			return nil, fmt.Errorf("%w: fetching %s: %v", ErrTransport, c.Endpoint(repository, metric), err)
		}

		c.metrics.RecordFetch(metric.String(), "error", duration)
		return nil, fmt.Errorf("fetching %s: %w", c.Endpoint(repository, metric), err)
	}

	c.metrics.RecordFetch(metric.String(), "ok", duration)
	logger.WithField("duration_ms", duration.Milliseconds()).Debug("Fetched traffic payload")
	c.store(key, payload)
	return payload, nil
}

func (c *Client) store(key string, payload traffic.Payload) {
	if c.cache != nil {
		c.cache.Add(key, payload)
	}
}

// fetchOnce performs a single request without retries
func (c *Client) fetchOnce(ctx context.Context, repository string, metric traffic.Metric) (traffic.Payload, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	repos := c.gh.Repositories
	switch metric {
	case traffic.MetricViews:
		v, _, err := repos.ListTrafficViews(ctx, c.owner, repository, &github.TrafficBreakdownOptions{Per: "day"})
		if err != nil {
			return nil, err
		}
		return convertViews(v)
	case traffic.MetricClones:
		cl, _, err := repos.ListTrafficClones(ctx, c.owner, repository, &github.TrafficBreakdownOptions{Per: "day"})
		if err != nil {
			return nil, err
		}
		return convertClones(cl)
	case traffic.MetricReferrers:
		refs, _, err := repos.ListTrafficReferrers(ctx, c.owner, repository)
		if err != nil {
			return nil, err
		}
		return convertReferrers(refs)
	case traffic.MetricPaths:
		paths, _, err := repos.ListTrafficPaths(ctx, c.owner, repository)
		if err != nil {
			return nil, err
		}
		return convertPaths(paths)
	default:
		return nil, fmt.Errorf("%w: %q", traffic.ErrUnknownMetric, string(metric))
	}
}

// classify maps go-github errors onto the retry vocabulary. ctx is the caller's
// context: a context error only means cancellation when ctx itself is done, otherwise
// it is an attempt timeout and is retried like any network failure.
func (c *Client) classify(ctx context.Context, repository string, metric traffic.Metric, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if isMalformed(err) {
		if errors.Is(err, ErrMalformedPayload) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &retry.WaitError{
			Until: rateErr.Rate.Reset.Time,
			Err:   &StatusError{Repository: repository, Metric: metric, StatusCode: statusOf(rateErr.Response, http.StatusForbidden), Message: rateErr.Message},
		}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		statusErr := &StatusError{Repository: repository, Metric: metric, StatusCode: statusOf(abuseErr.Response, http.StatusForbidden), Message: abuseErr.Message}
		if abuseErr.RetryAfter != nil {
			return &retry.WaitError{Until: c.now().Add(*abuseErr.RetryAfter), Err: statusErr}
		}
		return statusErr
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return &StatusError{Repository: repository, Metric: metric, StatusCode: http.StatusAccepted, Message: "statistics are being computed"}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		return &StatusError{Repository: repository, Metric: metric, StatusCode: statusOf(respErr.Response, 0), Message: respErr.Message}
	}

	return &transportError{err: err}
}

func statusOf(resp *http.Response, fallback int) int {
	if resp == nil {
		return fallback
	}
	return resp.StatusCode
}
