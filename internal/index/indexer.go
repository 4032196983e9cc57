// Package index reconciles the vault with the retrieval stores through
// the manifest: new and changed notes get re-chunked and re-embedded,
// removed notes get purged, unchanged notes are skipped.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianrag/obsidianrag/internal/chunk"
	"github.com/obsidianrag/obsidianrag/internal/embed"
	ragerrors "github.com/obsidianrag/obsidianrag/internal/errors"
	"github.com/obsidianrag/obsidianrag/internal/store"
	"github.com/obsidianrag/obsidianrag/internal/vault"
)

// fileWorkers bounds concurrent note processing during a pass.
const fileWorkers = 4

// Stats summarizes one indexing pass.
type Stats struct {
	Indexed   int           // notes chunked and embedded this pass
	Removed   int           // notes purged because they left the vault
	Unchanged int           // notes skipped, hash matched the manifest
	Failed    int           // notes that errored and were skipped
	Chunks    int           // chunks written this pass
	Duration  time.Duration
}

// Indexer owns the write path to both stores and the manifest.
// A single mutex serializes passes; reads of the stores stay concurrent.
type Indexer struct {
	vaultPath    string
	chunker      *chunk.Chunker
	embedder     embed.Embedder
	vectors      *store.VectorStore
	bm25         *store.BM25Index
	manifestPath string
	vectorPath   string
	lock         *flock.Flock

	mu       sync.Mutex
	manifest *vault.Manifest
}

// New creates an indexer rooted at the vault. The manifest is loaded
// eagerly; a corrupt manifest falls back to empty with a warning, which
// costs one full re-embed but never blocks startup.
func New(vaultPath string, chunker *chunk.Chunker, embedder embed.Embedder, vectors *store.VectorStore, bm25 *store.BM25Index) (*Indexer, error) {
	dataDir := filepath.Join(vaultPath, vault.DataDirName)
	if err := os.MkdirAll(filepath.Join(dataDir, "db"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	manifestPath := filepath.Join(dataDir, "manifest.json")
	manifest, err := vault.LoadManifest(manifestPath)
	if err != nil {
		slog.Warn("manifest_unreadable_starting_fresh",
			slog.String("path", manifestPath),
			slog.String("error", err.Error()))
		manifest = vault.NewManifest()
	}

	return &Indexer{
		vaultPath:    vaultPath,
		chunker:      chunker,
		embedder:     embedder,
		vectors:      vectors,
		bm25:         bm25,
		manifestPath: manifestPath,
		vectorPath:   filepath.Join(dataDir, "db", "vectors.hnsw"),
		lock:         flock.New(filepath.Join(dataDir, "lock")),
		manifest:     manifest,
	}, nil
}

// LoadStores restores persisted vector data and rebuilds the lexical
// index from it. Missing files mean a fresh vault.
func (ix *Indexer) LoadStores(ctx context.Context) error {
	if _, err := os.Stat(ix.vectorPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := ix.vectors.Load(ix.vectorPath); err != nil {
		return fmt.Errorf("failed to load vector store: %w", err)
	}
	if err := ix.bm25.Rebuild(ctx, ix.vectors.All()); err != nil {
		return fmt.Errorf("failed to rebuild lexical index: %w", err)
	}
	return nil
}

// Reindex runs one incremental pass. Safe to call concurrently; callers
// queue on the internal mutex. The process-level flock keeps a second
// process (CLI index vs running server) from interleaving writes.
func (ix *Indexer) Reindex(ctx context.Context) (*Stats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.lock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire index lock: %w", err)
	}
	defer func() { _ = ix.lock.Unlock() }()

	start := time.Now()
	stats := &Stats{}

	notes, err := vault.Scan(ix.vaultPath)
	if err != nil {
		return nil, fmt.Errorf("failed to scan vault: %w", err)
	}

	seen := make(map[string]struct{}, len(notes))
	type pending struct {
		note    *vault.Note
		content string
		hash    string
	}
	var toIndex []*pending

	for _, note := range notes {
		seen[note.RelPath] = struct{}{}

		content, err := vault.ReadNote(note)
		if err != nil {
			ferr := ragerrors.New(ragerrors.CategoryIndexingFileFailed, "failed to read note", err)
			slog.Warn("note_read_failed",
				slog.String("path", note.RelPath),
				slog.String("error", ferr.Error()))
			stats.Failed++
			continue
		}

		hash := vault.HashContent(content)
		if entry := ix.manifest.Get(note.RelPath); entry != nil && entry.Hash == hash {
			stats.Unchanged++
			continue
		}
		toIndex = append(toIndex, &pending{note: note, content: content, hash: hash})
	}

	// Purge notes that left the vault.
	for _, path := range ix.manifest.Paths() {
		if _, ok := seen[path]; ok {
			continue
		}
		chunkIDs := ix.manifest.Remove(path)
		if err := ix.vectors.Delete(ctx, chunkIDs); err != nil {
			return nil, err
		}
		stats.Removed++
	}

	// Chunk and embed changed notes concurrently; store writes and
	// manifest updates are serialized under resultMu.
	var resultMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fileWorkers)

	for _, p := range toIndex {
		p := p
		g.Go(func() error {
			chunks := ix.chunker.Chunk(p.note.RelPath, p.content)

			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Text
			}
			vectors, err := ix.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				ferr := ragerrors.New(ragerrors.CategoryIndexingFileFailed, "failed to embed note", err)
				slog.Warn("note_embed_failed",
					slog.String("path", p.note.RelPath),
					slog.String("error", ferr.Error()))
				resultMu.Lock()
				stats.Failed++
				resultMu.Unlock()
				return nil
			}

			records := make([]*store.Record, len(chunks))
			chunkIDs := make([]string, len(chunks))
			for i, c := range chunks {
				records[i] = &store.Record{
					ID:      c.ID,
					Source:  c.Source,
					Ordinal: c.Ordinal,
					Text:    c.Text,
					Links:   c.Links,
					Vector:  vectors[i],
				}
				chunkIDs[i] = c.ID
			}

			resultMu.Lock()
			defer resultMu.Unlock()

			// Replacing a note drops its old chunks first so stale
			// windows from a longer previous version cannot linger.
			if old := ix.manifest.Get(p.note.RelPath); old != nil {
				if err := ix.vectors.Delete(gctx, old.ChunkIDs); err != nil {
					return err
				}
			}
			if err := ix.vectors.Upsert(gctx, records); err != nil {
				return err
			}
			ix.manifest.Set(p.note.RelPath, p.hash, chunkIDs)
			stats.Indexed++
			stats.Chunks += len(records)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// The lexical index is rebuilt wholesale at pass end; it lives in
	// memory and a rebuild is cheap next to embedding.
	if stats.Indexed > 0 || stats.Removed > 0 {
		if err := ix.bm25.Rebuild(ctx, ix.vectors.All()); err != nil {
			return nil, err
		}
		if err := ix.vectors.Save(ix.vectorPath); err != nil {
			return nil, err
		}
		if err := ix.manifest.Save(ix.manifestPath); err != nil {
			return nil, err
		}
	}

	stats.Duration = time.Since(start)
	slog.Info("index_pass_complete",
		slog.Int("indexed", stats.Indexed),
		slog.Int("removed", stats.Removed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("failed", stats.Failed),
		slog.Duration("duration", stats.Duration))

	return stats, nil
}

// Rebuild drops all indexed state and runs a full pass from scratch.
func (ix *Indexer) Rebuild(ctx context.Context) (*Stats, error) {
	ix.mu.Lock()
	var allIDs []string
	for _, r := range ix.vectors.All() {
		allIDs = append(allIDs, r.ID)
	}
	if err := ix.vectors.Delete(ctx, allIDs); err != nil {
		ix.mu.Unlock()
		return nil, err
	}
	ix.manifest = vault.NewManifest()
	ix.mu.Unlock()

	return ix.Reindex(ctx)
}
