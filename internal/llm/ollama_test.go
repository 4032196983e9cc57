package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/obsidianrag/obsidianrag/internal/errors"
)

func streamServer(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": "llama3.1:8b"}, {"name": "qwen3:4b"}},
			})
		case "/api/generate":
			var req generateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.True(t, req.Stream)

			flusher := w.(http.Flusher)
			enc := json.NewEncoder(w)
			for _, tok := range tokens {
				_ = enc.Encode(generateChunk{Response: tok})
				flusher.Flush()
			}
			_ = enc.Encode(generateChunk{Done: true})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestListModels(t *testing.T) {
	srv := streamServer(t, nil)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "llama3.1:8b"})
	defer func() { _ = c.Close() }()

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.1:8b", "qwen3:4b"}, models)
	assert.True(t, c.Available(context.Background()))
}

func TestGenerateStreamTokens(t *testing.T) {
	srv := streamServer(t, []string{"Hello", " ", "world"})
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "llama3.1:8b"})
	defer func() { _ = c.Close() }()

	var got []string
	err := c.GenerateStream(context.Background(), "say hello", func(tok string) error {
		got = append(got, tok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", strings.Join(got, ""))
}

func TestGenerateStreamSendsTemperature(t *testing.T) {
	var gotTemp float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotTemp, _ = req.Options["temperature"].(float64)
		_ = json.NewEncoder(w).Encode(generateChunk{Done: true})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m", Temperature: 0.1})
	err := c.GenerateStream(context.Background(), "p", func(string) error { return nil })
	require.NoError(t, err)
	assert.InDelta(t, 0.1, gotTemp, 0.001)
}

func TestGenerateStreamHostDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately: connection refused

	c := NewClient(Config{BaseURL: srv.URL, Model: "m"})
	err := c.GenerateStream(context.Background(), "p", func(string) error { return nil })
	require.Error(t, err)
	assert.Equal(t, ragerrors.CategoryLLMUnavailable, ragerrors.CategoryOf(err))
}

func TestGenerateStreamServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m"})
	err := c.GenerateStream(context.Background(), "p", func(string) error { return nil })
	require.Error(t, err)
	assert.Equal(t, ragerrors.CategoryLLMUnavailable, ragerrors.CategoryOf(err))
}

func TestGenerateStreamBrokenMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprintln(w, `{"response":"partial","done":false}`)
		flusher.Flush()
		// Truncated JSON, then the handler returns and the connection closes.
		_, _ = fmt.Fprint(w, `{"resp`)
		flusher.Flush()
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m"})
	var got []string
	err := c.GenerateStream(context.Background(), "p", func(tok string) error {
		got = append(got, tok)
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, ragerrors.CategoryStreamBroken, ragerrors.CategoryOf(err))
	assert.Equal(t, []string{"partial"}, got)
}

func TestGenerateStreamCallbackAbort(t *testing.T) {
	srv := streamServer(t, []string{"a", "b", "c"})
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m"})
	sentinel := fmt.Errorf("stop now")
	err := c.GenerateStream(context.Background(), "p", func(string) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestGenerateStreamIdleTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprintln(w, `{"response":"one","done":false}`)
		flusher.Flush()
		<-block // stall without closing
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(Config{BaseURL: srv.URL, Model: "m", IdleTimeout: 100 * time.Millisecond})
	err := c.GenerateStream(context.Background(), "p", func(string) error { return nil })
	require.Error(t, err)
	assert.Equal(t, ragerrors.CategoryStreamBroken, ragerrors.CategoryOf(err))
}

// generateStreamGoroutines counts goroutines still parked inside
// GenerateStream or its decoder.
func generateStreamGoroutines() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Count(string(buf[:n]), "llm.(*Client).GenerateStream")
}

func TestGenerateStreamIdleTimeoutReleasesDecoder(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprintln(w, `{"response":"one","done":false}`)
		flusher.Flush()
		<-block // stall without closing
	}))
	defer srv.Close()
	defer close(block)

	c := NewClient(Config{BaseURL: srv.URL, Model: "m", IdleTimeout: 100 * time.Millisecond})
	err := c.GenerateStream(context.Background(), "p", func(string) error { return nil })
	require.Error(t, err)

	// The decoder goroutine must not linger once the stream is abandoned.
	assert.Eventually(t, func() bool {
		return generateStreamGoroutines() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestGenerateStreamContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprintln(w, `{"response":"one","done":false}`)
		flusher.Flush()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(Config{BaseURL: srv.URL, Model: "m"})

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := c.GenerateStream(ctx, "p", func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	assert.Eventually(t, func() bool {
		return generateStreamGoroutines() == 0
	}, 2*time.Second, 20*time.Millisecond)
}
