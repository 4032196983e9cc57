package search

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/obsidianrag/obsidianrag/internal/embed"
	"github.com/obsidianrag/obsidianrag/internal/store"
)

// RetrieverConfig tunes the hybrid retrieval stage.
type RetrieverConfig struct {
	// RetrievalK is how many candidates the vector store returns.
	RetrievalK int

	// BM25K is how many candidates the lexical index returns.
	BM25K int

	// VectorWeight and BM25Weight control fusion; they sum to 1.
	VectorWeight float64
	BM25Weight   float64
}

// Retriever runs vector and lexical queries in parallel and fuses the
// two ranked lists into one.
type Retriever struct {
	embedder embed.Embedder
	vectors  *store.VectorStore
	bm25     *store.BM25Index
	config   RetrieverConfig
}

// NewRetriever creates a hybrid retriever over the two stores.
func NewRetriever(embedder embed.Embedder, vectors *store.VectorStore, bm25 *store.BM25Index, cfg RetrieverConfig) *Retriever {
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = 12
	}
	if cfg.BM25K <= 0 {
		cfg.BM25K = 5
	}
	if cfg.VectorWeight == 0 && cfg.BM25Weight == 0 {
		cfg.VectorWeight = 0.6
		cfg.BM25Weight = 0.4
	}
	return &Retriever{
		embedder: embedder,
		vectors:  vectors,
		bm25:     bm25,
		config:   cfg,
	}
}

// Retrieve returns the fused candidate list for a query, sorted by
// fused score descending with deterministic tie-breaks.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]*Candidate, error) {
	var vectorHits []*store.VectorResult
	var lexicalHits []*store.BM25Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		qvec, err := r.embedder.Embed(gctx, query)
		if err != nil {
			return err
		}
		vectorHits, err = r.vectors.Query(gctx, qvec, r.config.RetrievalK)
		return err
	})
	g.Go(func() error {
		var err error
		lexicalHits, err = r.bm25.Search(gctx, query, r.config.BM25K)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := r.fuse(vectorHits, lexicalHits)

	slog.Debug("retrieval_complete",
		slog.Int("vector_hits", len(vectorHits)),
		slog.Int("lexical_hits", len(lexicalHits)),
		slog.Int("fused", len(candidates)))

	return candidates, nil
}

// fuse max-normalizes each list to [0,1], weights, and merges by chunk
// ID keeping one candidate per chunk.
func (r *Retriever) fuse(vectorHits []*store.VectorResult, lexicalHits []*store.BM25Result) []*Candidate {
	vectorNorm := make(map[string]float64, len(vectorHits))
	var vectorMax float64
	for _, h := range vectorHits {
		if float64(h.Score) > vectorMax {
			vectorMax = float64(h.Score)
		}
	}
	for _, h := range vectorHits {
		score := float64(h.Score)
		if vectorMax > 0 {
			score /= vectorMax
		}
		vectorNorm[h.ID] = score
	}

	lexicalNorm := make(map[string]float64, len(lexicalHits))
	var lexicalMax float64
	for _, h := range lexicalHits {
		if h.Score > lexicalMax {
			lexicalMax = h.Score
		}
	}
	for _, h := range lexicalHits {
		score := h.Score
		if lexicalMax > 0 {
			score /= lexicalMax
		}
		lexicalNorm[h.ID] = score
	}

	ids := make(map[string]struct{}, len(vectorNorm)+len(lexicalNorm))
	for id := range vectorNorm {
		ids[id] = struct{}{}
	}
	for id := range lexicalNorm {
		ids[id] = struct{}{}
	}

	candidates := make([]*Candidate, 0, len(ids))
	for id := range ids {
		record, ok := r.vectors.Get(id)
		if !ok {
			continue
		}

		vs, inVector := vectorNorm[id]
		ls, inLexical := lexicalNorm[id]
		fused := r.config.VectorWeight*vs + r.config.BM25Weight*ls

		provenance := ProvenanceHybrid
		switch {
		case inVector && !inLexical:
			provenance = ProvenanceVector
		case inLexical && !inVector:
			provenance = ProvenanceLexical
		}

		candidates = append(candidates, &Candidate{
			ID:         id,
			Source:     record.Source,
			Ordinal:    record.Ordinal,
			Text:       record.Text,
			Links:      record.Links,
			Score:      fused,
			Provenance: provenance,
		})
	}

	// Deterministic order: fused score, then vector score, then chunk ID.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		va, vb := vectorNorm[a.ID], vectorNorm[b.ID]
		if va != vb {
			return va > vb
		}
		return a.ID < b.ID
	})

	return candidates
}
