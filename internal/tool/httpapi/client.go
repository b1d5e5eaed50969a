// Package httpapi is the thin, shared HTTP client used by C1 tool
// adapters (Google Workspace, 1C OData, Project Lad) that talk to a real backend
// service, grounded on the teacher's internal/httpclient package and
// extended with golang.org/x/time/rate throttling.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RetryableError reports an HTTP failure a caller may retry, optionally
// after RetryAfter, grounded on the teacher's httpclient.RetryableError.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("http %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error   { return e.Err }
func (e *RetryableError) IsRetryable() bool { return true }

// Client is a rate-limited, JSON-speaking HTTP client shared by every
// httpapi-backed tool.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	headers    map[string]string
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond bounds outbound calls (§5 resource model — tool
	// calls are rate limited the same way the sandbox runner is).
	RequestsPerSecond float64
	Burst             int
	Headers           map[string]string
}

// New builds a Client from cfg, defaulting Timeout to 30s and the rate
// limiter to 5 req/s with a burst of 5 when unset.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		headers:    cfg.Headers,
	}
}

// Do issues method against path (joined with baseURL) with body marshaled
// as JSON, waiting on the rate limiter first, and decodes the response
// body into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("httpapi: rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("httpapi: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("httpapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			RetryAfter: parseRetryAfter(resp.Header),
		}
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("httpapi: %s %s: %s: %s", method, path, resp.Status, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("httpapi: decode response: %w", err)
	}
	return nil
}

func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v + "s"); err == nil {
		return d
	}
	return 0
}
