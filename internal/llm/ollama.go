// Package llm talks to the local Ollama-compatible model host: model
// discovery and streaming text generation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	ragerrors "github.com/obsidianrag/obsidianrag/internal/errors"
)

// DefaultIdleTimeout aborts a stream when the host stops producing
// tokens without closing the connection.
const DefaultIdleTimeout = 30 * time.Second

// Config configures the generation client.
type Config struct {
	// BaseURL is the model host (default: http://localhost:11434).
	BaseURL string

	// Model is the generation model name.
	Model string

	// Temperature is the sampling temperature.
	Temperature float64

	// IdleTimeout caps the wait between consecutive tokens.
	IdleTimeout time.Duration
}

// Client is an Ollama-compatible generation client.
type Client struct {
	client *http.Client
	config Config

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a generation client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	// No client-level timeout: streams are open-ended and bounded by
	// the per-token idle watchdog and the request context instead.
	return &Client{
		client: &http.Client{},
		config: cfg,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the model names the host has available.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ragerrors.LLMUnavailable("failed to connect to model host", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, ragerrors.LLMUnavailable(
			fmt.Sprintf("model host returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var result tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerrors.LLMUnavailable("failed to decode model list", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

// Available reports whether the host is reachable.
func (c *Client) Available(ctx context.Context) bool {
	_, err := c.ListModels(ctx)
	return err == nil
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// GenerateStream streams a completion, invoking onToken for each token
// as it arrives. A failure before the first token maps to
// llm_unavailable; a failure after tokens have flowed maps to
// generation_stream_broken. A non-nil error from onToken aborts the
// stream and is returned as-is.
func (c *Client) GenerateStream(ctx context.Context, prompt string, onToken func(token string) error) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("client is closed")
	}
	c.mu.RUnlock()

	body, err := json.Marshal(generateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: true,
		Options: map[string]any{
			"temperature": c.config.Temperature,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ragerrors.LLMUnavailable("failed to connect to model host", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return ragerrors.LLMUnavailable(
			fmt.Sprintf("generation failed with status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	// Decode NDJSON on a goroutine so the idle watchdog can fire while
	// a read is blocked on a stalled connection. Every send selects on
	// stop: once this function returns, nobody is receiving, and an
	// unguarded send would strand the goroutine.
	type decoded struct {
		chunk generateChunk
		err   error
	}
	chunks := make(chan decoded)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(chunks)
		decoder := json.NewDecoder(resp.Body)
		for {
			var ch generateChunk
			if err := decoder.Decode(&ch); err != nil {
				if err != io.EOF {
					select {
					case chunks <- decoded{err: err}:
					case <-stop:
					}
				}
				return
			}
			select {
			case chunks <- decoded{chunk: ch}:
			case <-stop:
				return
			}
			if ch.Done {
				return
			}
		}
	}()

	started := false
	idle := time.NewTimer(c.config.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idle.C:
			// Unblock the decoder goroutine.
			_ = resp.Body.Close()
			if started {
				return ragerrors.StreamBroken("model host went silent mid-stream", nil)
			}
			return ragerrors.LLMUnavailable("model host produced no output", nil)

		case d, ok := <-chunks:
			if !ok {
				if !started {
					return ragerrors.LLMUnavailable("stream ended before any output", nil)
				}
				return nil
			}
			if d.err != nil {
				if started {
					return ragerrors.StreamBroken("stream terminated abnormally", d.err)
				}
				return ragerrors.LLMUnavailable("failed to read stream", d.err)
			}

			if d.chunk.Response != "" {
				started = true
				if err := onToken(d.chunk.Response); err != nil {
					return err
				}
			}
			if d.chunk.Done {
				return nil
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.config.IdleTimeout)
		}
	}
}

// Close releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.client.CloseIdleConnections()
	return nil
}
