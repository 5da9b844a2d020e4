// Package network provides the transport capability the feed consumes: a
// throttled, retrying REST client and a WebSocket connection wrapper. The
// core never touches sockets directly; strategies go through this package
// so one shared client serves many feeds with one request budget.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"

	"github.com/MementoRC/hb-candles-feed-sub001/pkg/logging"
	"github.com/MementoRC/hb-candles-feed-sub001/pkg/ratelimit"
)

// Options configures the REST client.
type Options struct {
	// Timeout bounds every request including retries of a single attempt.
	Timeout time.Duration

	RateLimit ratelimit.Rate

	MaxRetries uint
	RetryDelay time.Duration

	// Debug logs every request and a capped slice of every response body
	// at debug level.
	Debug bool

	Logger logging.Logger
}

// debugBodyLimit caps logged response bodies so a large kline page does
// not flood the log.
const debugBodyLimit = 512

// DefaultOptions returns a configuration suitable for public market-data
// endpoints.
func DefaultOptions() *Options {
	return &Options{
		Timeout: 30 * time.Second,
		RateLimit: ratelimit.Rate{
			Limit:    10,
			Interval: time.Second,
		},
		MaxRetries: 3,
		RetryDelay: time.Second,
		Logger:     logging.NewNopLogger(),
	}
}

// RESTClient executes throttled HTTP requests with retries on transient
// failures. Safe for concurrent use by multiple feeds.
type RESTClient struct {
	opts       *Options
	httpClient *http.Client
	limiter    ratelimit.RateLimiter
	logger     logging.Logger
}

// NewRESTClient creates a REST client with the given options; nil selects
// the defaults.
func NewRESTClient(opts *Options) *RESTClient {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	return &RESTClient{
		opts: opts,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: ratelimit.NewTokenBucketLimiter(opts.RateLimit),
		logger:  opts.Logger,
	}
}

// SetRateLimit replaces the rate limiter configuration.
func (c *RESTClient) SetRateLimit(limit ratelimit.Rate) error {
	return c.limiter.SetLimit(limit)
}

// Request performs one throttled HTTP request and returns the response
// body. Server errors (5xx) and 429 are retried with a delay; a 429 that
// survives the retry budget surfaces ErrRateLimited, other non-2xx
// statuses surface *HTTPError without retrying, and transport failures
// surface *NetworkError.
func (c *RESTClient) Request(ctx context.Context, method, rawURL string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	fullURL := rawURL
	if len(query) > 0 {
		fullURL = rawURL + "?" + query.Encode()
	}

	var body []byte
	var rateLimited bool

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("building request: %w", err))
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return &NetworkError{Op: method, URL: rawURL, Err: err}
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return &NetworkError{Op: "read", URL: rawURL, Err: err}
			}

			if c.opts.Debug {
				c.logger.Debug("http response",
					logging.String("url", fullURL),
					logging.Int("status", resp.StatusCode),
					logging.String("body", truncate(data, debugBodyLimit)),
				)
			}

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				rateLimited = true
				return fmt.Errorf("status 429: %w", ErrRateLimited)
			case resp.StatusCode >= 500:
				rateLimited = false
				return fmt.Errorf("retryable status %d", resp.StatusCode)
			case resp.StatusCode >= 300:
				return retry.Unrecoverable(&HTTPError{StatusCode: resp.StatusCode, Body: data})
			}

			rateLimited = false
			body = data
			return nil
		},
		retry.Attempts(c.opts.MaxRetries),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying request",
				logging.Int("attempt", int(n+1)),
				logging.String("url", rawURL),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		if rateLimited {
			return nil, fmt.Errorf("%s %s: %w", method, rawURL, ErrRateLimited)
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return nil, httpErr
		}
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return nil, netErr
		}
		return nil, &NetworkError{Op: method, URL: rawURL, Err: err}
	}

	return body, nil
}
