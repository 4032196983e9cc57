package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"
)

// DefaultRerankerTimeout bounds one cross-encoder scoring call.
const DefaultRerankerTimeout = 30 * time.Second

// Reranker rescores candidates against the query and truncates to topN.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []*Candidate, topN int) ([]*Candidate, error)
	Available(ctx context.Context) bool
	Close() error
}

// NoOpReranker keeps the fused order and only truncates.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

func (NoOpReranker) Rerank(_ context.Context, _ string, candidates []*Candidate, topN int) ([]*Candidate, error) {
	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates, nil
}

func (NoOpReranker) Available(context.Context) bool { return true }
func (NoOpReranker) Close() error                   { return nil }

// HTTPRerankerConfig configures the cross-encoder scoring endpoint.
type HTTPRerankerConfig struct {
	// URL is the rerank endpoint (POST {query, documents}).
	URL string

	// Timeout is the request timeout.
	Timeout time.Duration
}

// HTTPReranker scores candidates with an external cross-encoder service.
type HTTPReranker struct {
	client *http.Client
	config HTTPRerankerConfig

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// NewHTTPReranker creates a cross-encoder reranker client.
func NewHTTPReranker(cfg HTTPRerankerConfig) *HTTPReranker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}
	return &HTTPReranker{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// Rerank posts the query with candidate texts, replaces each fused
// score with the normalized cross-encoder score, re-sorts, and
// truncates to topN.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []*Candidate, topN int) ([]*Candidate, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, fmt.Errorf("reranker is closed")
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return candidates, nil
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Text
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	// Cross-encoder hosts return raw logits, which can fall anywhere on
	// the real line. Min-max normalize so downstream thresholds and the
	// wire payloads always see scores in [0, 1].
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, hit := range result.Results {
		if hit.Score < lo {
			lo = hit.Score
		}
		if hit.Score > hi {
			hi = hit.Score
		}
	}
	spread := hi - lo

	rescored := make([]*Candidate, 0, len(result.Results))
	for _, hit := range result.Results {
		if hit.Index < 0 || hit.Index >= len(candidates) {
			continue
		}
		score := 1.0
		if spread > 0 {
			score = (hit.Score - lo) / spread
		}
		c := *candidates[hit.Index]
		c.Score = score
		rescored = append(rescored, &c)
	}

	sort.Slice(rescored, func(i, j int) bool {
		if rescored[i].Score != rescored[j].Score {
			return rescored[i].Score > rescored[j].Score
		}
		return rescored[i].ID < rescored[j].ID
	})

	if topN > 0 && len(rescored) > topN {
		rescored = rescored[:topN]
	}
	return rescored, nil
}

// Available checks if the rerank endpoint responds.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false
	}
	r.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.URL, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < http.StatusInternalServerError
}

// Close releases resources.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.client.CloseIdleConnections()
	return nil
}
