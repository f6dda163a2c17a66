package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/ZanzyTHEbar/fundscope/internal/clock"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
	"github.com/ZanzyTHEbar/fundscope/internal/monitoring"
	"github.com/ZanzyTHEbar/fundscope/internal/resilience"
)

const userAgent = "fundscope/1.0"

// maxBodyBytes caps how much of a provider response is read into memory.
const maxBodyBytes = 8 << 20

// ClientConfig configures one provider's HTTP client.
type ClientConfig struct {
	Name              string
	BaseURL           string
	Headers           map[string]string
	RequestsPerSecond float64
	Burst             int
	RetryMax          int
	Timeout           time.Duration
	Breaker           resilience.CircuitBreakerConfig
}

// Client is the shared transport for signal providers: paced by a token
// bucket, retried by retryablehttp and guarded by a circuit breaker.
type Client struct {
	name    string
	baseURL string
	headers map[string]string
	http    *retryablehttp.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	metrics *monitoring.Metrics
	logger  *slog.Logger
}

// NewClient builds a provider client. metrics and logger may be nil.
func NewClient(cfg ClientConfig, clk clock.Clock, metrics *monitoring.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = monitoring.Discard()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}

	logger = logger.With("component", "adapter", "provider", cfg.Name)

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = logger
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.HTTPClient.Timeout = cfg.Timeout
	// Hand the final response back so status codes can be mapped below.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: cfg.Headers,
		http:    retryClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: resilience.NewCircuitBreaker(cfg.Name, cfg.Breaker, clk),
		metrics: metrics,
		logger:  logger,
	}
}

// Name returns the provider name used in logs and metrics.
func (c *Client) Name() string { return c.name }

// Breaker exposes the provider's circuit breaker.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Get issues a paced GET against path relative to the base URL. Any 2xx
// status is returned with its body; 404 maps to a not-found error, 429 to a
// rate-limit error and everything else to an external API error.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	var (
		status int
		body   []byte
	)
	err := c.breaker.Call(func() error {
		var err error
		status, body, err = c.do(ctx, path, query)
		return err
	}, countsAsFailure)
	if err != nil {
		var cbErr *resilience.CircuitBreakerError
		if errors.As(err, &cbErr) {
			return 0, nil, apperrors.NewExternalAPIError(c.name, err)
		}
		return status, nil, err
	}
	return status, body, nil
}

func (c *Client) do(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, c.contextError(err)
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, apperrors.NewInternalError("failed to build provider request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		c.record(path, 0, start, false)
		if ctx.Err() != nil {
			return 0, nil, c.contextError(ctx.Err())
		}
		return 0, nil, apperrors.NewExternalAPIError(c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.record(path, resp.StatusCode, start, false)
		return resp.StatusCode, nil, apperrors.NewExternalAPIError(c.name, fmt.Errorf("read body: %w", err))
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.record(path, resp.StatusCode, start, ok)

	switch {
	case ok:
		return resp.StatusCode, body, nil
	case resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, nil, apperrors.NewNotFoundError(c.name+" resource", path)
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, nil, apperrors.NewRateLimitError(retryAfter(resp.Header.Get("Retry-After")))
	default:
		return resp.StatusCode, nil, apperrors.NewExternalAPIError(c.name,
			fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path))
	}
}

func (c *Client) contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(c.name+" request timed out", err)
	}
	return err
}

func (c *Client) record(path string, status int, start time.Time, success bool) {
	dur := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordExternalAPIRequest(c.name, success)
	}
	level := slog.LevelDebug
	if !success {
		level = slog.LevelWarn
	}
	c.logger.Log(context.Background(), level, "provider request",
		"endpoint", path,
		"status_code", status,
		"duration_ms", dur.Milliseconds(),
		"success", success,
	)
}

// countsAsFailure decides which errors trip the breaker. Missing resources
// are answers, not outages.
func countsAsFailure(err error) bool {
	return !apperrors.IsNotFound(err) && !errors.Is(err, context.Canceled)
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return time.Minute
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Minute
}
