// Package httpclient wraps net/http with the retry/backoff policy used for
// outbound LLM provider calls: a small number of retries on 429/5xx with
// exponential backoff honoring a Retry-After header when present.
package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Client is a minimal retrying HTTP client for provider REST calls.
type Client struct {
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxRetries overrides the default retry count.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// New constructs a Client with conservative retry defaults.
func New(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON issues a POST with a JSON body, retrying on 429 and 5xx
// responses, and returns the raw response body on a non-retryable outcome.
func (c *Client) PostJSON(req *http.Request, body []byte) ([]byte, int, error) {
	var lastErr error
	var retryAfter time.Duration
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if retryAfter > 0 {
				time.Sleep(retryAfter)
			} else {
				time.Sleep(c.backoff(attempt))
			}
			retryAfter = 0
		}

		cloned := req.Clone(req.Context())
		cloned.Body = io.NopCloser(bytes.NewReader(body))
		cloned.ContentLength = int64(len(body))

		resp, err := c.http.Do(cloned)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if !isRetryable(resp.StatusCode) || attempt == c.maxRetries {
			return respBody, resp.StatusCode, nil
		}
		lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
		retryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), 0)
	}
	return nil, 0, fmt.Errorf("httpclient: exhausted retries: %w", lastErr)
}

func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseDelay
	if d > c.maxDelay {
		d = c.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2+1))
	return d + jitter
}

// ParseRetryAfter reads a Retry-After header value as a duration, falling
// back to def if absent or malformed.
func ParseRetryAfter(header string, def time.Duration) time.Duration {
	if header == "" {
		return def
	}
	secs, err := strconv.Atoi(header)
	if err != nil {
		return def
	}
	return time.Duration(secs) * time.Second
}
