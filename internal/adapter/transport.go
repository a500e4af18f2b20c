package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RetryPolicy bounds how often an idempotent provider request is repeated.
type RetryPolicy struct {
	Attempts int // retries after the first try
	Delay    time.Duration
}

// Response is a fully read provider answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsRetryableStatus reports whether an HTTP status is a transient provider failure.
func IsRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// Send performs the request built by newRequest, retrying network errors,
// 429 and 5xx answers according to policy. newRequest is called once per
// attempt so bodies are fresh; callers must keep idempotency headers stable
// across calls. The last response is returned when retries are exhausted.
func Send(ctx context.Context, client *http.Client, policy RetryPolicy, newRequest func(ctx context.Context) (*http.Request, error)) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.Attempts; attempt++ {
		if attempt > 0 && policy.Delay > 0 {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(policy.Delay):
			}
		}

		req, err := newRequest(ctx)
		if err != nil {
			return Response{}, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("attempt %d: read response: %w", attempt+1, readErr)
			continue
		}

		out := Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		if IsRetryableStatus(resp.StatusCode) && attempt < policy.Attempts {
			lastErr = fmt.Errorf("attempt %d: HTTP %d", attempt+1, resp.StatusCode)
			continue
		}
		return out, nil
	}
	return Response{}, lastErr
}
