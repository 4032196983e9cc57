package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianrag/obsidianrag/internal/config"
	"github.com/obsidianrag/obsidianrag/pkg/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "obsidianrag")
	assert.Contains(t, out, version.Version)
}

func TestVersionShort(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestServeMissingVault(t *testing.T) {
	_, err := execute(t, "serve", "--config", "/nonexistent/obsidianrag.yaml")
	assert.Error(t, err)
}

func TestIndexVaultNotADirectory(t *testing.T) {
	_, err := execute(t, "index", "--vault", "/nonexistent/vault")
	assert.Error(t, err)
}

func TestInitWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obsidianrag.yaml")
	out, err := execute(t, "init", "--config", path, "--vault", "/vault")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/vault", cfg.VaultPath)
	assert.Equal(t, 8000, cfg.BindPort)
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obsidianrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bind_port: 9100\n"), 0o644))

	_, err := execute(t, "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	// --force replaces it.
	_, err = execute(t, "init", "--config", path, "--force")
	require.NoError(t, err)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.BindPort)
}

func TestHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "index")
	assert.Contains(t, out, "init")
	assert.Contains(t, out, "version")
}
