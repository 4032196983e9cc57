package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/obsidianrag/obsidianrag/internal/config"
)

// newInitCmd creates the init command: write a starter config file
// with the defaults so users have something concrete to edit.
func newInitCmd(flags *rootFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write the default configuration to obsidianrag.yaml in the current
directory. Pass --vault to bake the vault path in, --config to choose
a different destination.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(flags, force, cmd)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func runInit(flags *rootFlags, force bool, cmd *cobra.Command) error {
	path := flags.configPath
	if path == "" {
		path = "obsidianrag.yaml"
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
	}

	cfg := config.New()
	if flags.vaultPath != "" {
		cfg.VaultPath = flags.vaultPath
	}
	if err := cfg.WriteYAML(path); err != nil {
		return err
	}

	_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return err
}
