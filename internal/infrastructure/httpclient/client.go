package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// StatusError reports a non-2xx response that was not retried or that
// exhausted its retries.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client sends requests with exponential backoff. Transport errors, 429 and
// 5xx responses are retried, any other status is returned immediately.
type Client struct {
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON decodes the body of a 200 response into result.
func (c *Client) GetJSON(ctx context.Context, url string, result any) error {
	body, err := c.Do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return decode(body, result)
}

// PostJSON marshals payload, posts it and decodes a 200 response into result.
func (c *Client) PostJSON(ctx context.Context, url string, payload, result any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	body, err := c.Do(ctx, http.MethodPost, url, encoded)
	if err != nil {
		return err
	}
	return decode(body, result)
}

func (c *Client) Do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying request", "url", url, "attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: truncate(body)}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(body)}
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// IsStatus reports whether err carries the given HTTP status.
func IsStatus(err error, status int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == status
}

func decode(body []byte, result any) error {
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
