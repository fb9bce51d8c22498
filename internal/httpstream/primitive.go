// Package httpstream implements the streaming HTTP Primitive (C4):
// an SSE line parser that fans events out to a caller-supplied set of
// sinks. Sinks are instantiated upstream by the universal executor (C12)
// per spec.md §4.4 — this package never constructs a sink, it only
// writes to and closes the ones it is handed.
package httpstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leolilley/kiwi-mcp-sub008/internal/httpclient"
	"github.com/leolilley/kiwi-mcp-sub008/internal/sink"
)

// Input describes a streaming HTTP call. Sinks must already be
// instantiated by the caller (spec.md §4.4).
type Input struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        any
	BodyParams  map[string]any
	TimeoutSecs int
	Auth        *httpclient.Auth
	Sinks       []sink.Sink
}

// Result is the streaming primitive's result object.
type Result struct {
	Success            bool        `json:"success"`
	StatusCode         int         `json:"status_code"`
	Body               any         `json:"body,omitempty"`
	StreamEventsCount  int         `json:"stream_events_count"`
	StreamDestinations []string    `json:"stream_destinations"`
	DurationMs         int64       `json:"duration_ms"`
	Error              string      `json:"error,omitempty"`
}

// Client executes streaming HTTP calls. The zero value is usable.
type Client struct {
	Transport http.RoundTripper
}

// Do opens a connection to in.URL, parses the response as SSE, and fans
// each event out to every sink in in.Sinks (spec.md §4.4). Every sink
// that receives at least one Write attempt is Closed exactly once, even
// if an earlier sink's Write or Close returned an error (invariant:
// "close() on every sink in iteration order, even if earlier sinks
// raised").
func (c *Client) Do(ctx context.Context, in Input) Result {
	start := time.Now()
	destinations := make([]string, len(in.Sinks))
	for i, s := range in.Sinks {
		destinations[i] = s.Type()
	}

	timeout := in.TimeoutSecs
	if timeout <= 0 {
		timeout = 0 // streams may run indefinitely; caller controls via ctx
	}
	httpClient := &http.Client{Transport: c.transport()}
	if timeout > 0 {
		httpClient.Timeout = time.Duration(timeout) * time.Second
	}

	var bodyBytes []byte
	if in.Body != nil {
		templated := httpclient.TemplateBody(in.Body, in.BodyParams)
		encoded, err := json.Marshal(templated)
		if err != nil {
			return Result{Success: false, Error: err.Error(), StreamDestinations: destinations}
		}
		bodyBytes = encoded
	}

	req, err := http.NewRequestWithContext(ctx, in.Method, in.URL, bytes.NewReader(bodyBytes))
	if err != nil {
		closeAll(in.Sinks)
		return Result{Success: false, Error: err.Error(), StreamDestinations: destinations}
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "text/event-stream")
	httpclient.Inject(req, in.Auth)

	resp, err := httpClient.Do(req)
	if err != nil {
		closeAll(in.Sinks)
		return Result{Success: false, Error: err.Error(), StreamDestinations: destinations, DurationMs: time.Since(start).Milliseconds()}
	}
	defer resp.Body.Close()

	count := 0
	var returnSink *sink.ReturnSink
	for _, s := range in.Sinks {
		if rs, ok := s.(*sink.ReturnSink); ok {
			returnSink = rs
			break
		}
	}

	scanErr := parseSSE(resp.Body, func(event []byte) {
		count++
		for _, s := range in.Sinks {
			_ = s.Write(event)
		}
	})

	closeAll(in.Sinks)

	result := Result{
		StatusCode:         resp.StatusCode,
		StreamEventsCount:  count,
		StreamDestinations: destinations,
		DurationMs:         time.Since(start).Milliseconds(),
		Success:            resp.StatusCode < 400 && scanErr == nil,
	}
	if scanErr != nil {
		result.Error = scanErr.Error()
	}
	if returnSink != nil {
		result.Body = returnSink.Buffer()
	}
	return result
}

func (c *Client) transport() http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}

// parseSSE reads body line by line per spec.md §4.4/§8.7: lines not
// starting with "data:" are ignored (comments, event:, id:); the payload
// is the remainder after "data:" and optional leading whitespace; a
// blank line terminates the current event.
func parseSSE(body io.Reader, onEvent func([]byte)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var current strings.Builder
	haveData := false
	flush := func() {
		if haveData {
			onEvent([]byte(current.String()))
			current.Reset()
			haveData = false
		}
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimPrefix(line, "data:")
		payload = strings.TrimLeft(payload, " \t")
		if haveData {
			current.WriteByte('\n')
		}
		current.WriteString(payload)
		haveData = true
	}
	flush()
	return scanner.Err()
}

func closeAll(sinks []sink.Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}
