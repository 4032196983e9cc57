package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/obsidianrag/obsidianrag/internal/index"
	"github.com/obsidianrag/obsidianrag/internal/logging"
)

// newIndexCmd creates the index command: a one-shot indexing pass
// without starting the server.
func newIndexCmd(flags *rootFlags) *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the vault and exit",
		Long: `Walk the vault, reconcile changed notes against the stored index,
and exit. With --rebuild, discard the existing index first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), flags, rebuild, cmd)
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Discard the existing index and rebuild from scratch")
	return cmd
}

func runIndex(ctx context.Context, flags *rootFlags, rebuild bool, cmd *cobra.Command) error {
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

	embedder, vectors, bm25, indexer, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()
	defer func() { _ = vectors.Close() }()
	defer func() { _ = bm25.Close() }()

	var stats *index.Stats
	if rebuild {
		stats, err = indexer.Rebuild(ctx)
	} else {
		if err := indexer.LoadStores(ctx); err != nil {
			return err
		}
		stats, err = indexer.Reindex(ctx)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(),
		"indexed %d, unchanged %d, removed %d, failed %d (%d chunks, %s)\n",
		stats.Indexed, stats.Unchanged, stats.Removed, stats.Failed, stats.Chunks, stats.Duration)
	return err
}
