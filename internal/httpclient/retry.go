package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy controls when and how often DoWithRetry tries again after a
// failed response. Backoff doubles per attempt starting at BaseBackoff and
// is capped at MaxBackoff; a 429 Retry-After header overrides the computed
// wait (capped the same way).
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	BaseBackoff time.Duration // first wait; doubles each retry
	MaxBackoff  time.Duration // cap on any single wait
	Retry429    bool          // retry 429 Too Many Requests
	Retry5xx    bool          // retry 5xx responses
	RetryErrors bool          // retry transport-level errors
}

// DefaultRetryPolicy is the provider-facing ladder: 5, 10, 20, 40, 80 seconds
// capped at 120, five attempts total.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseBackoff: 5 * time.Second,
	MaxBackoff:  120 * time.Second,
	Retry429:    true,
	Retry5xx:    true,
	RetryErrors: true,
}

// QuickRetryPolicy retries once after a second. For local aggregator calls
// where long ladders would stall the pipeline.
var QuickRetryPolicy = RetryPolicy{
	MaxAttempts: 2,
	BaseBackoff: 1 * time.Second,
	MaxBackoff:  5 * time.Second,
	Retry429:    true,
	Retry5xx:    true,
	RetryErrors: true,
}

// DoWithRetry performs req, retrying per policy with exponential backoff.
// 4xx responses other than 429 are returned immediately and never retried.
// GET-style requests only: retries rebuild the request without a body.
// Caller must close resp.Body when err == nil.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	backoff := policy.BaseBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var resp *http.Response
	var err error
	for attempt := 1; ; attempt++ {
		resp, err = client.Do(req)
		if err != nil {
			if !policy.RetryErrors || attempt >= policy.MaxAttempts {
				return nil, err
			}
		} else {
			code := resp.StatusCode
			if code < 400 {
				return resp, nil
			}
			// 4xx (except 429): the request itself is wrong, no retry.
			if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
				return resp, nil
			}
			retriable := (code == http.StatusTooManyRequests && policy.Retry429) ||
				(code >= 500 && policy.Retry5xx)
			if !retriable || attempt >= policy.MaxAttempts {
				return resp, nil
			}
		}

		wait := backoff
		if policy.MaxBackoff > 0 && wait > policy.MaxBackoff {
			wait = policy.MaxBackoff
		}
		if resp != nil {
			if resp.StatusCode == http.StatusTooManyRequests {
				if ra := resp.Header.Get("Retry-After"); ra != "" {
					wait = parseRetryAfter(ra, policy.MaxBackoff)
				}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2

		// Rebuild: the original body, if any, was consumed on the first send.
		req2, rerr := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
		if rerr != nil {
			return nil, rerr
		}
		for k, v := range req.Header {
			req2.Header[k] = v
		}
		req = req2
	}
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date); returns duration capped at max.
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
	// RFC 1123 date
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
