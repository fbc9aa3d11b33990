// Package openaicompat is a minimal JSON client for OpenAI-compatible HTTP
// APIs (OpenAI, Azure OpenAI proxies, Ollama, vLLM, LM Studio).
//
// It handles bearer authentication, client-side rate limiting and retries
// with exponential backoff that honour Retry-After.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public OpenAI API.
const DefaultBaseURL = "https://api.openai.com/v1"

// Config configures a Client.
type Config struct {
	// BaseURL is the API root including the version segment.
	// Default: https://api.openai.com/v1
	BaseURL string

	// APIKey is used verbatim when set.
	APIKey string

	// APIKeyEnv names the environment variable holding the key when APIKey
	// is empty (e.g., "OPENAI_API_KEY").
	APIKeyEnv string

	// Timeout bounds each HTTP attempt. Default: 60s.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	// Default: 3. Negative disables retries.
	MaxRetries int

	// RateLimit is the maximum requests per second (0 = unlimited).
	RateLimit float64

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// ErrNoAPIKey is returned when neither APIKey nor APIKeyEnv yields a key.
var ErrNoAPIKey = errors.New("api key not configured")

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client posts JSON requests to an OpenAI-compatible API.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	http       *http.Client
	limiter    *rate.Limiter
	sleep      func(ctx context.Context, d time.Duration) error
}

// New builds a client. A missing key is not an error here; callers that need
// one check HasKey (local servers such as Ollama accept anonymous calls).
func New(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}
	if retries < 0 {
		retries = 0
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL:    base,
		apiKey:     key,
		maxRetries: retries,
		http:       hc,
		sleep:      sleepCtx,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// HasKey reports whether an API key was resolved.
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostJSON sends req to path and decodes the JSON response into resp.
func (c *Client) PostJSON(ctx context.Context, path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff(attempt-1, lastErr)); err != nil {
				return err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		payload, err := c.do(ctx, url, body)
		if err == nil {
			if err := json.Unmarshal(payload, resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", c.maxRetries+1, lastErr)
}

// retryAfterError carries a server-provided delay alongside the status.
type retryAfterError struct {
	*StatusError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.StatusError }

func (c *Client) do(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		se := &StatusError{StatusCode: res.StatusCode, Body: truncate(string(payload), 512)}
		if secs, err := strconv.Atoi(res.Header.Get("Retry-After")); err == nil && secs > 0 {
			return nil, &retryAfterError{StatusError: se, after: time.Duration(secs) * time.Second}
		}
		return nil, se
	}
	return payload, nil
}

// backoff returns 500ms, 1s, 2s, ... capped at 10s, or the server's
// Retry-After when one was sent.
func backoff(attempt int, lastErr error) time.Duration {
	var ra *retryAfterError
	if errors.As(lastErr, &ra) {
		return min(ra.after, 30*time.Second)
	}
	d := 500 * time.Millisecond << attempt
	if d > 10*time.Second || d <= 0 {
		d = 10 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
