package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FetchError marks a failed feed retrieval. Status is the HTTP status
// code, or zero for network-level failures; the string forms let source
// health classification distinguish rate-limiting from access denial
// from server failure.
type FetchError struct {
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("rss_fetch_status_%d", e.Status)
	}
	return fmt.Sprintf("rss_fetch_status_network_%v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RetryPolicy decides how many attempts a fetch gets and how long to
// wait between them. Backoff grows linearly with the attempt number;
// HTTP-status retries and network retries back off at different rates.
type RetryPolicy struct {
	MaxAttempts int
	HTTPBackoff time.Duration
	NetBackoff  time.Duration
	RetryStatus func(status int) bool
	Sleep       func(ctx context.Context, d time.Duration)
}

// DefaultRetryPolicy matches the production policy: two attempts,
// retrying only on 429/502/503/504 or network failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		HTTPBackoff: 750 * time.Millisecond,
		NetBackoff:  500 * time.Millisecond,
		RetryStatus: func(status int) bool {
			return status == http.StatusTooManyRequests ||
				status == http.StatusBadGateway ||
				status == http.StatusServiceUnavailable ||
				status == http.StatusGatewayTimeout
		},
		Sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Client retrieves raw feed bytes with a per-request timeout, retry and
// a descriptive User-Agent.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	userAgent string
	retry     RetryPolicy
}

// NewClient builds a feed client. Zero timeout falls back to 8s.
func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		http:      &http.Client{},
		timeout:   timeout,
		userAgent: userAgent,
		retry:     DefaultRetryPolicy(),
	}
}

// WithRetryPolicy overrides the retry policy, mainly for tests that
// inject a fake sleep.
func (c *Client) WithRetryPolicy(p RetryPolicy) *Client {
	c.retry = p
	return c
}

// Get fetches the URL, returning the response body. Transient HTTP
// statuses and network errors are retried per policy; any other non-2xx
// status fails immediately with a status-coded error.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr *FetchError

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		body, fetchErr := c.fetchOnce(ctx, url)
		if fetchErr == nil {
			return body, nil
		}
		lastErr = fetchErr

		if fetchErr.Status != 0 && !c.retry.RetryStatus(fetchErr.Status) {
			return nil, fetchErr
		}
		if attempt == c.retry.MaxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, &FetchError{Err: err}
		}

		backoff := c.retry.NetBackoff
		if fetchErr.Status != 0 {
			backoff = c.retry.HTTPBackoff
		}
		c.retry.Sleep(ctx, backoff*time.Duration(attempt))
	}

	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, *FetchError) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	return body, nil
}
