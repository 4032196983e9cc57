package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// BM25Index wraps an in-memory bleve index for keyword search. It is
// rebuilt from the vector store's records at startup and after each
// indexing pass, so it never touches disk.
type BM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// bleveDocument is the indexed document shape.
type bleveDocument struct {
	Content string `json:"content"`
}

// NewBM25Index creates an empty in-memory BM25 index.
func NewBM25Index() (*BM25Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &BM25Index{index: idx}, nil
}

// Index adds or replaces documents in a single batch.
func (b *BM25Index) Index(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, r := range records {
		if err := batch.Index(r.ID, bleveDocument{Content: r.Text}); err != nil {
			return fmt.Errorf("failed to index document %s: %w", r.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Delete removes documents by ID.
func (b *BM25Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Rebuild replaces the whole index with the given records. Searches
// observe either the old or the new index, never a partial one.
func (b *BM25Index) Rebuild(ctx context.Context, records []*Record) error {
	fresh, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	batch := fresh.NewBatch()
	for _, r := range records {
		if err := batch.Index(r.ID, bleveDocument{Content: r.Text}); err != nil {
			_ = fresh.Close()
			return fmt.Errorf("failed to index document %s: %w", r.ID, err)
		}
	}
	if err := fresh.Batch(batch); err != nil {
		_ = fresh.Close()
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		_ = fresh.Close()
		return fmt.Errorf("index is closed")
	}

	old := b.index
	b.index = fresh
	_ = old.Close()
	return nil
}

// Search returns documents matching the query, scored by BM25.
// An empty query returns no results.
func (b *BM25Index) Search(ctx context.Context, queryStr string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &BM25Result{ID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Count returns the number of indexed documents.
func (b *BM25Index) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	n, _ := b.index.DocCount()
	return int(n)
}

// Close closes the index.
func (b *BM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
