// Package store holds the two retrieval indexes: an HNSW vector store
// with cached chunk records, and an in-memory bleve BM25 index.
package store

import "fmt"

// Record is a chunk as stored: its vector plus everything needed to
// assemble prompts and stats without re-reading the vault.
type Record struct {
	ID      string
	Source  string
	Ordinal int
	Text    string
	Links   []string
	Vector  []float32
}

// VectorResult is a vector search hit.
type VectorResult struct {
	ID       string
	Score    float32 // cosine similarity mapped to [0,1]
	Distance float32
}

// BM25Result is a lexical search hit.
type BM25Result struct {
	ID    string
	Score float64
}

// VectorStoreConfig configures the HNSW store.
type VectorStoreConfig struct {
	// Dimensions is the fixed embedding dimension. Vectors of any other
	// length are rejected.
	Dimensions int

	// M is the HNSW connectivity parameter.
	M int

	// EfSearch is the HNSW search expansion factor.
	EfSearch int
}

// ErrDimensionMismatch is returned when a vector's dimension does not
// match the store. The fix is rebuilding the index with the new model.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: store has %d, got %d (rebuild the index after changing embedding models)", e.Expected, e.Got)
}
