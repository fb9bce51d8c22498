package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := &Client{}
	result := client.Do(context.Background(), Input{Method: "GET", URL: srv.URL})
	require.True(t, result.Success)
	require.Equal(t, 200, result.StatusCode)
	body, ok := result.Body.(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, body["ok"])
}

func TestDoRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &Client{}
	result := client.Do(context.Background(), Input{Method: "GET", URL: srv.URL, RetryMax: 3})
	require.True(t, result.Success)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoNeverRetries4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := &Client{}
	result := client.Do(context.Background(), Input{Method: "GET", URL: srv.URL, RetryMax: 3})
	require.False(t, result.Success)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoInjectsBearerAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &Client{}
	result := client.Do(context.Background(), Input{
		Method: "GET", URL: srv.URL,
		Auth: &Auth{Type: AuthBearer, Token: "secret-token"},
	})
	require.True(t, result.Success)
	require.Equal(t, "Bearer secret-token", gotAuth)
}

func TestDoTemplatesJSONBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &Client{}
	result := client.Do(context.Background(), Input{
		Method: "POST", URL: srv.URL,
		Body:       map[string]any{"greeting": "hello {name}"},
		BodyParams: map[string]any{"name": "world"},
	})
	require.True(t, result.Success)
	require.Contains(t, gotBody, `"greeting":"hello world"`)
}
