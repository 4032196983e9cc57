// Package main provides the entry point for the obsidianrag CLI.
package main

import (
	"os"

	"github.com/obsidianrag/obsidianrag/cmd/obsidianrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
