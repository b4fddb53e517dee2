package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy bounds how hard a single URL is retried. 4xx responses other
// than 429 are never retried; connection errors, 429 and 5xx are.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first (min 1)
	Backoff     time.Duration // fixed delay between attempts
	MaxWait     time.Duration // cap on a server-requested Retry-After wait
}

// DefaultRetryPolicy: three attempts, two seconds apart, Retry-After capped
// at 30s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff:     2 * time.Second,
	MaxWait:     30 * time.Second,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MaxWait <= 0 {
		p.MaxWait = 30 * time.Second
	}
	return p
}

// StatusError is a non-2xx terminal response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.Code)
}

// GetWithRetry performs GET rawURL under policy. On success the caller must
// close resp.Body. Retryable failures (connection error, 429, 5xx) consume
// an attempt each; the last error is returned once attempts are exhausted.
func GetWithRetry(ctx context.Context, client *http.Client, rawURL string, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	policy = policy.normalized()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(policy.Backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "epg-sync/1.0")
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		code := resp.StatusCode
		if code >= 200 && code < 300 {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = &StatusError{URL: rawURL, Code: code}

		// 4xx other than 429 won't get better with retries.
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return nil, lastErr
		}
		if code == http.StatusTooManyRequests {
			wait := parseRetryAfter(resp.Header.Get("Retry-After"), policy.MaxWait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return nil, lastErr
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date), capped at max.
func parseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1 * time.Second
	}
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		d := time.Duration(sec) * time.Second
		if d > max {
			return max
		}
		return d
	}
	t, err := time.Parse(time.RFC1123, s)
	if err != nil {
		return 1 * time.Second
	}
	until := time.Until(t)
	if until <= 0 {
		return 0
	}
	if until > max {
		return max
	}
	return until
}
