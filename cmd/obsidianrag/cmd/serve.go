package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsidianrag/obsidianrag/internal/chunk"
	"github.com/obsidianrag/obsidianrag/internal/config"
	"github.com/obsidianrag/obsidianrag/internal/embed"
	"github.com/obsidianrag/obsidianrag/internal/index"
	"github.com/obsidianrag/obsidianrag/internal/llm"
	"github.com/obsidianrag/obsidianrag/internal/logging"
	"github.com/obsidianrag/obsidianrag/internal/qa"
	"github.com/obsidianrag/obsidianrag/internal/search"
	"github.com/obsidianrag/obsidianrag/internal/server"
	"github.com/obsidianrag/obsidianrag/internal/store"
	"github.com/obsidianrag/obsidianrag/internal/vault"
	"github.com/obsidianrag/obsidianrag/pkg/version"
)

// newServeCmd creates the serve command. The root command runs the same
// flow, so `obsidianrag` and `obsidianrag serve` are equivalent.
func newServeCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Index the vault, then serve /health, /stats, /ask, /ask/stream, and /rebuild_db on loopback.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().IntVar(&flags.bindPort, "port", 0, "Loopback port to bind (default 8000)")
	cmd.Flags().StringVar(&flags.model, "model", "", "Generation model name")
	cmd.Flags().BoolVar(&flags.useReranker, "use-reranker", false, "Enable the cross-encoder reranker")
	return cmd
}

// loadConfig resolves configuration: file, then environment, then flags.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.vaultPath != "" {
		cfg.VaultPath = flags.vaultPath
	}
	if flags.bindPort != 0 {
		cfg.BindPort = flags.bindPort
	}
	if flags.model != "" {
		cfg.LLMModel = flags.model
	}
	if flags.useReranker {
		cfg.UseReranker = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildPipeline wires the embedder, stores, and indexer for a vault.
func buildPipeline(ctx context.Context, cfg *config.Config) (embed.Embedder, *store.VectorStore, *store.BM25Index, *index.Indexer, error) {
	embedder, err := embed.NewEmbedder(ctx, embed.FactoryConfig{
		Provider: cfg.EmbedderProvider,
		Model:    cfg.EmbedderModel,
		BaseURL:  cfg.OllamaBaseURL,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	// A persisted index from a different embedder cannot be reused.
	vectorPath := filepath.Join(cfg.DataDir(), "db", "vectors.hnsw")
	if stored, err := store.ReadStoredDimensions(vectorPath); err == nil && stored > 0 && stored != embedder.Dimensions() {
		_ = embedder.Close()
		return nil, nil, nil, nil, fmt.Errorf(
			"stored index has dimension %d but embedder %q produces %d: run 'obsidianrag index --rebuild'",
			stored, embedder.ModelName(), embedder.Dimensions())
	}

	vectors, err := store.NewVectorStore(store.VectorStoreConfig{Dimensions: embedder.Dimensions()})
	if err != nil {
		_ = embedder.Close()
		return nil, nil, nil, nil, err
	}
	bm25, err := store.NewBM25Index()
	if err != nil {
		_ = embedder.Close()
		_ = vectors.Close()
		return nil, nil, nil, nil, err
	}

	indexer, err := index.New(cfg.VaultPath, chunk.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap), embedder, vectors, bm25)
	if err != nil {
		_ = embedder.Close()
		_ = vectors.Close()
		_ = bm25.Close()
		return nil, nil, nil, nil, err
	}
	return embedder, vectors, bm25, indexer, nil
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.DataDir())
	logCfg.Level = cfg.LogLevel
	cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting",
		slog.String("version", version.Short()),
		slog.String("vault", cfg.VaultPath),
		slog.Int("port", cfg.BindPort))

	embedder, vectors, bm25, indexer, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()
	defer func() { _ = vectors.Close() }()
	defer func() { _ = bm25.Close() }()

	if err := indexer.LoadStores(ctx); err != nil {
		return err
	}
	stats, err := indexer.Reindex(ctx)
	if err != nil {
		return err
	}
	slog.Info("startup_index_complete",
		slog.Int("indexed", stats.Indexed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("removed", stats.Removed),
		slog.Duration("duration", stats.Duration))

	generator := llm.NewClient(llm.Config{
		BaseURL:     cfg.OllamaBaseURL,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
	})
	defer func() { _ = generator.Close() }()

	if models, err := generator.ListModels(ctx); err != nil {
		slog.Warn("model_host_unreachable", slog.String("error", err.Error()))
	} else {
		slog.Info("model_host_ready", slog.Int("models", len(models)))
	}

	var reranker search.Reranker = search.NoOpReranker{}
	if cfg.UseReranker {
		reranker = search.NewHTTPReranker(search.HTTPRerankerConfig{URL: cfg.RerankerURL})
	}

	retriever := search.NewRetriever(embedder, vectors, bm25, search.RetrieverConfig{
		RetrievalK:   cfg.RetrievalK,
		BM25K:        cfg.BM25K,
		VectorWeight: cfg.VectorWeight,
		BM25Weight:   cfg.BM25Weight,
	})
	orchestrator := qa.New(retriever, reranker, search.NewExpander(vectors), generator, qa.Config{
		UseReranker:  cfg.UseReranker,
		RerankerTopN: cfg.RerankerTopN,
		MinScore:     cfg.MinScore,
	})

	if cfg.WatchVault {
		debounce, err := time.ParseDuration(cfg.WatchDebounce)
		if err != nil {
			debounce = vault.DefaultDebounceWindow
		}
		watcher := vault.NewWatcher(cfg.VaultPath, debounce, func(ctx context.Context) {
			if _, err := indexer.Reindex(ctx); err != nil {
				slog.Error("watch_reindex_failed", slog.String("error", err.Error()))
			}
		})
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("watcher_start_failed", slog.String("error", err.Error()))
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	srv := server.New(server.Config{
		BindPort:  cfg.BindPort,
		VaultPath: cfg.VaultPath,
	}, orchestrator, indexer, generator, vectors)
	return srv.Start(ctx)
}
