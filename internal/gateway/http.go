package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HTTP is the narrow fetch surface handlers consume. Timeouts and retries
// here are HTTP-client concerns, distinct from task-level retries.
type HTTP interface {
	Fetch(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error)
	FetchContent(ctx context.Context, rawURL string, headers map[string]string) ([]byte, http.Header, error)
	Head(ctx context.Context, rawURL string, headers map[string]string, allowStatuses ...int) (*http.Response, error)
}

// Client implements HTTP with bounded timeouts and a per-host token bucket so
// a fanout burst cannot hammer a single origin.
type Client struct {
	client   *http.Client
	maxBody  int64
	perHost  rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// ClientOptions tune the outbound HTTP client.
type ClientOptions struct {
	Timeout     time.Duration // total request budget, default 30s
	MaxBodySize int64         // bytes, default 10 MiB
	PerHostRPS  float64       // default 2
	Burst       int           // default 4
}

// NewClient builds a rate-limited HTTP client.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodySize == 0 {
		opts.MaxBodySize = 10 << 20
	}
	if opts.PerHostRPS == 0 {
		opts.PerHostRPS = 2
	}
	if opts.Burst == 0 {
		opts.Burst = 4
	}
	return &Client{
		client:   &http.Client{Timeout: opts.Timeout},
		maxBody:  opts.MaxBodySize,
		perHost:  rate.Limit(opts.PerHostRPS),
		burst:    opts.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.perHost, c.burst)
		c.limiters[host] = l
	}
	return l
}

func (c *Client) do(ctx context.Context, method, rawURL string, headers map[string]string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "news-pipeline/1.0")
	}
	return c.client.Do(req)
}

func (c *Client) Fetch(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, headers)
}

func (c *Client) FetchContent(ctx context.Context, rawURL string, headers map[string]string) ([]byte, http.Header, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL, headers)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, resp.Header, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, resp.Header, fmt.Errorf("read body: %w", err)
	}
	return body, resp.Header, nil
}

func (c *Client) Head(ctx context.Context, rawURL string, headers map[string]string, allowStatuses ...int) (*http.Response, error) {
	resp, err := c.do(ctx, http.MethodHead, rawURL, headers)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		for _, s := range allowStatuses {
			if resp.StatusCode == s {
				return resp, nil
			}
		}
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// StatusError reports a non-2xx fetch. 4xx is terminal for the task that
// asked for the URL; 5xx and 429 are transient.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// Transient reports whether the failure is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
