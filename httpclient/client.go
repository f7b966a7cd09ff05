// Package httpclient is the rate-limited, retrying HTTP client shared by the
// market feed, the thought-log fetcher and the LLM client.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Client HTTP client with rate limiting and exponential backoff
type Client struct {
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	opts       Options
}

// Options client settings; zero values take defaults
type Options struct {
	Timeout         time.Duration
	RequestsPerSec  float64
	Burst           int
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxRetryTimeout time.Duration
}

// StatusError non-2xx response
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("unexpected status %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Retryable 429 and 5xx are retried, other statuses are permanent
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// New creates a client
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.Burst == 0 {
		opts.Burst = 1
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialInterval == 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxRetryTimeout == 0 {
		opts.MaxRetryTimeout = 30 * time.Second
	}

	return &Client{
		HTTPClient: &http.Client{Timeout: opts.Timeout},
		Limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.Burst),
		opts:       opts,
	}
}

// Do sends method url with body and returns the response body of a 2xx response.
// Network errors, 429 and 5xx are retried with exponential backoff; Retry-After is honored.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, header http.Header) ([]byte, error) {
	var out []byte
	attempt := 0

	operation := func() error {
		attempt++
		if err := c.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			statusErr := &StatusError{
				StatusCode: resp.StatusCode,
				Body:       truncate(string(data), 512),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			if !statusErr.Retryable() {
				return backoff.Permanent(statusErr)
			}
			if statusErr.RetryAfter > 0 {
				log.Warn().Int("status", resp.StatusCode).Dur("retry_after", statusErr.RetryAfter).Str("url", url).Msg("⏳ Rate limited, waiting")
				select {
				case <-time.After(statusErr.RetryAfter):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return statusErr
		}

		out = data
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialInterval
	policy.MaxElapsedTime = c.opts.MaxRetryTimeout

	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Str("url", url).Msg("⚠️  Request failed, retrying")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.opts.MaxRetries), ctx), notify)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get is Do with GET and an Accept: application/json header
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, url, nil, http.Header{"Accept": []string{"application/json"}})
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
