// Package cmd provides the CLI commands for ObsidianRAG.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/obsidianrag/obsidianrag/pkg/version"
)

// rootFlags are shared between the root command and subcommands.
type rootFlags struct {
	configPath  string
	vaultPath   string
	bindPort    int
	model       string
	useReranker bool
}

// NewRootCmd creates the root command. Running it with no subcommand
// starts the server.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "obsidianrag",
		Short: "Local RAG server for an Obsidian vault",
		Long: `ObsidianRAG answers questions about a Markdown vault with hybrid
BM25 + vector retrieval and a local Ollama-compatible model host.

It binds to loopback only and keeps all data inside the vault's
.obsidianrag directory.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.SetVersionTemplate("obsidianrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to YAML config file")
	cmd.PersistentFlags().StringVar(&flags.vaultPath, "vault", "", "Path to the vault root")
	cmd.Flags().IntVar(&flags.bindPort, "port", 0, "Loopback port to bind (default 8000)")
	cmd.Flags().StringVar(&flags.model, "model", "", "Generation model name")
	cmd.Flags().BoolVar(&flags.useReranker, "use-reranker", false, "Enable the cross-encoder reranker")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newIndexCmd(flags))
	cmd.AddCommand(newInitCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
