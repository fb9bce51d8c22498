// Package httpclient implements the synchronous HTTP Primitive (C3):
// retrying JSON-templated requests with auth injection. Retry/backoff is
// adapted from nexus's internal/backoff package (exponential, jittered).
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/leolilley/kiwi-mcp-sub008/internal/backoff"
)

// Input describes a synchronous HTTP call.
type Input struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        any
	BodyParams  map[string]any
	TimeoutSecs int
	RetryMax    int
	// SkipSSLVerify disables certificate verification. Verification
	// defaults to on (spec.md §4.3's verify_ssl?=true), so the zero
	// value keeps it enabled.
	SkipSSLVerify bool
	Auth          *Auth
}

// Result is the primitive's result object.
type Result struct {
	Success    bool           `json:"success"`
	StatusCode int            `json:"status_code"`
	Body       any            `json:"body"`
	Headers    http.Header    `json:"headers"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// Client executes HTTP calls. The zero value is usable.
type Client struct {
	Transport http.RoundTripper
}

// Do executes the request per spec.md §4.3: templates the body, injects
// auth, retries on network errors and 408/429/5xx with exponential
// backoff (1s, 2s, 4s, ...), and never retries other 4xx statuses.
func (c *Client) Do(ctx context.Context, in Input) Result {
	timeout := in.TimeoutSecs
	if timeout <= 0 {
		timeout = 30
	}
	retryMax := in.RetryMax
	if retryMax <= 0 {
		retryMax = 3
	}

	httpClient := &http.Client{
		Timeout:   time.Duration(timeout) * time.Second,
		Transport: c.transport(in.SkipSSLVerify),
	}

	var bodyBytes []byte
	if in.Body != nil {
		templated := TemplateBody(in.Body, in.BodyParams)
		var err error
		bodyBytes, err = json.Marshal(templated)
		if err != nil {
			return Result{Success: false, Error: "encode body: " + err.Error()}
		}
	}

	start := time.Now()
	var lastResult Result
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			wait := backoff.Compute(backoff.DefaultPolicy(), attempt)
			select {
			case <-ctx.Done():
				return Result{Success: false, Error: ctx.Err().Error(), DurationMs: time.Since(start).Milliseconds()}
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, in.Method, in.URL, bytes.NewReader(bodyBytes))
		if err != nil {
			return Result{Success: false, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}
		}
		for k, v := range in.Headers {
			req.Header.Set(k, v)
		}
		if bodyBytes != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		Inject(req, in.Auth)

		resp, err := httpClient.Do(req)
		if err != nil {
			lastResult = Result{Success: false, Error: err.Error(), DurationMs: time.Since(start).Milliseconds()}
			if isRetryableNetErr(err) && attempt < retryMax {
				continue
			}
			return lastResult
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		result := Result{
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if readErr != nil {
			result.Success = false
			result.Error = readErr.Error()
			return result
		}
		result.Body = decodeBody(resp.Header.Get("Content-Type"), respBody)
		result.Success = resp.StatusCode < 400

		if !result.Success && isRetryableStatus(resp.StatusCode) && attempt < retryMax {
			lastResult = result
			continue
		}
		return result
	}
	return lastResult
}

func (c *Client) transport(skipVerify bool) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return defaultTransport(skipVerify)
}

func decodeBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		return decoded
	}
	return string(body)
}

func isRetryableStatus(status int) bool {
	if status == 408 || status == 429 {
		return true
	}
	return status >= 500
}

// isRetryableNetErr reports whether a transport error is retried: every
// network error is, except the caller cancelling ctx.
func isRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
