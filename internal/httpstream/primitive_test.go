package httpstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leolilley/kiwi-mcp-sub008/internal/sink"
)

func sseHandler(events []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, e := range events {
			w.Write([]byte("event: message\n"))
			w.Write([]byte("data: " + e + "\n"))
			w.Write([]byte("\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func TestDoFansOutToReturnAndFileSink(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{`{"i":1}`, `{"i":2}`, `{"i":3}`, `{"i":4}`, `{"i":5}`}))
	defer srv.Close()

	dir := t.TempDir()
	filePath := filepath.Join(dir, "x.jsonl")
	fileSink, err := sink.NewFileSink(filePath, sink.FileFormatJSONL, 1)
	require.NoError(t, err)
	returnSink := sink.NewReturnSink(0)

	client := &Client{}
	result := client.Do(context.Background(), Input{
		Method: "GET", URL: srv.URL,
		Sinks: []sink.Sink{returnSink, fileSink},
	})

	require.True(t, result.Success)
	require.Equal(t, 5, result.StreamEventsCount)
	require.Equal(t, []string{"return", "file"}, result.StreamDestinations)
	require.Equal(t, 5, returnSink.Len())
}

func TestDoIgnoresNonDataLines(t *testing.T) {
	srv := httptest.NewServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(": this is a comment\n"))
		w.Write([]byte("id: 1\n"))
		w.Write([]byte("data: only-event\n"))
		w.Write([]byte("\n"))
	})
	defer srv.Close()

	returnSink := sink.NewReturnSink(0)
	client := &Client{}
	result := client.Do(context.Background(), Input{Method: "GET", URL: srv.URL, Sinks: []sink.Sink{returnSink}})

	require.True(t, result.Success)
	require.Equal(t, 1, result.StreamEventsCount)
	buf := returnSink.Buffer()
	require.Equal(t, "only-event", string(buf[0]))
}

func TestDoSucceedsWithReturnAndNullSinks(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{"a"}))
	defer srv.Close()

	returnSink := sink.NewReturnSink(0)
	client := &Client{}
	result := client.Do(context.Background(), Input{Method: "GET", URL: srv.URL, Sinks: []sink.Sink{returnSink, sink.NullSink{}}})
	require.True(t, result.Success)
}
