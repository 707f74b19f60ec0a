package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxBody caps how much of a response body adapters will read.
const maxBody = 4 << 20

// UserAgent is sent with every adapter request.
const UserAgent = "fedline/0.3 (https://github.com/abelbrown/fedline)"

var (
	sharedTransport *http.Transport
	transportOnce   sync.Once
)

// Transport returns the process-wide pooled transport shared by adapters.
func Transport() *http.Transport {
	transportOnce.Do(func() {
		sharedTransport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   15 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          50,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 20 * time.Second,
		}
	})
	return sharedTransport
}

// Client performs rate-limited JSON GETs and maps failures onto Kind.
// Both API adapters embed one.
type Client struct {
	HTTP    *http.Client
	Limiter *rate.Limiter
	Now     func() time.Time
}

// NewClient returns a Client allowing one request per interval (burst 2).
func NewClient(interval time.Duration) *Client {
	return &Client{
		HTTP:    &http.Client{Transport: Transport(), Timeout: 30 * time.Second},
		Limiter: rate.NewLimiter(rate.Every(interval), 2),
		Now:     time.Now,
	}
}

// GetJSON issues an authorized GET and decodes the body into out.
// The response headers are returned for pagination (Link) parsing.
func (c *Client) GetJSON(ctx context.Context, op, url, token string, out any) (http.Header, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindNetwork, Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, &Error{Kind: KindUnknown, Op: op, Err: ctx.Err()}
		}
		return nil, &Error{Kind: KindNetwork, Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(op, resp, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp.Header, nil
}

// statusError maps a non-200 response onto the taxonomy.
func (c *Client) statusError(op string, resp *http.Response, body []byte) *Error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	cause := fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet)

	kind := ClassifyStatus(resp.StatusCode)
	e := &Error{Kind: kind, Op: op, Err: cause}
	if kind == KindRateLimited {
		e.RetryAfter = ParseRetryAfter(resp.Header, c.now())
	}
	return e
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// ClassifyStatus maps an HTTP status code onto a Kind.
func ClassifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthExpired
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500 || code == http.StatusRequestTimeout:
		return KindNetwork
	case code >= 400:
		return KindMalformedResponse
	default:
		return KindUnknown
	}
}

// ParseRetryAfter reads Retry-After (seconds or HTTP date) or Mastodon's
// X-RateLimit-Reset (RFC 3339). Returns zero when absent or in the past.
func ParseRetryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil && t.After(now) {
			return t.Sub(now)
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil && t.After(now) {
			return t.Sub(now)
		}
	}
	return 0
}
