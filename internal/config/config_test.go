package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/obsidianrag/obsidianrag/internal/errors"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, 8000, cfg.BindPort)
	assert.InDelta(t, 0.1, cfg.LLMTemperature, 0.001)
	assert.Equal(t, "ollama", cfg.EmbedderProvider)
	assert.Equal(t, 1500, cfg.ChunkSize)
	assert.Equal(t, 300, cfg.ChunkOverlap)
	assert.Equal(t, 12, cfg.RetrievalK)
	assert.Equal(t, 5, cfg.BM25K)
	assert.InDelta(t, 0.6, cfg.VectorWeight, 0.001)
	assert.InDelta(t, 0.4, cfg.BM25Weight, 0.001)
	assert.False(t, cfg.UseReranker)
	assert.Equal(t, 6, cfg.RerankerTopN)
	assert.InDelta(t, 0.3, cfg.MinScore, 0.001)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obsidianrag.yaml")
	content := `
vault_path: /tmp/vault
bind_port: 9100
llm_model: mistral:7b
use_reranker: true
vector_weight: 0.7
bm25_weight: 0.3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/vault", cfg.VaultPath)
	assert.Equal(t, 9100, cfg.BindPort)
	assert.Equal(t, "mistral:7b", cfg.LLMModel)
	assert.True(t, cfg.UseReranker)
	assert.InDelta(t, 0.7, cfg.VectorWeight, 0.001)
	// Unspecified fields keep defaults.
	assert.Equal(t, 1500, cfg.ChunkSize)
	assert.Equal(t, "nomic-embed-text", cfg.EmbedderModel)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.BindPort)
}

func TestLoadMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vault_path: [not, a, string"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OBSIDIANRAG_VAULT_PATH", "/env/vault")
	t.Setenv("OBSIDIANRAG_BIND_PORT", "9200")
	t.Setenv("OBSIDIANRAG_LLM_MODEL", "qwen3:4b")
	t.Setenv("OBSIDIANRAG_LLM_TEMPERATURE", "0.7")
	t.Setenv("OBSIDIANRAG_USE_RERANKER", "true")
	t.Setenv("OBSIDIANRAG_VECTOR_WEIGHT", "0.8")
	t.Setenv("OBSIDIANRAG_BM25_WEIGHT", "0.2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/env/vault", cfg.VaultPath)
	assert.Equal(t, 9200, cfg.BindPort)
	assert.Equal(t, "qwen3:4b", cfg.LLMModel)
	assert.InDelta(t, 0.7, cfg.LLMTemperature, 0.001)
	assert.True(t, cfg.UseReranker)
	assert.InDelta(t, 0.8, cfg.VectorWeight, 0.001)
	assert.InDelta(t, 0.2, cfg.BM25Weight, 0.001)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obsidianrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bind_port: 9100\n"), 0o644))
	t.Setenv("OBSIDIANRAG_BIND_PORT", "9300")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.BindPort)
}

func TestValidate(t *testing.T) {
	vault := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing vault",
			mutate:  func(c *Config) { c.VaultPath = "" },
			wantErr: "vault_path is required",
		},
		{
			name:    "nonexistent vault",
			mutate:  func(c *Config) { c.VaultPath = filepath.Join(vault, "nope") },
			wantErr: "not accessible",
		},
		{
			name:    "weights do not sum to one",
			mutate:  func(c *Config) { c.VectorWeight = 0.9; c.BM25Weight = 0.4 },
			wantErr: "must equal 1.0",
		},
		{
			name:    "overlap exceeds chunk size",
			mutate:  func(c *Config) { c.ChunkOverlap = 2000 },
			wantErr: "chunk_overlap",
		},
		{
			name:    "bad provider",
			mutate:  func(c *Config) { c.EmbedderProvider = "openai" },
			wantErr: "embedder_provider",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.BindPort = -1 },
			wantErr: "bind_port",
		},
		{
			name:    "min_score out of range",
			mutate:  func(c *Config) { c.MinScore = 1.5 },
			wantErr: "min_score",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.LLMTemperature = 2.5 },
			wantErr: "llm_temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			cfg.VaultPath = vault
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateVaultErrorsCategorized(t *testing.T) {
	cfg := New()
	cfg.VaultPath = filepath.Join(t.TempDir(), "gone")

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, ragerrors.CategoryVaultMissing, ragerrors.CategoryOf(err))

	cfg.VaultPath = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, ragerrors.CategoryVaultMissing, ragerrors.CategoryOf(err))
}

func TestVaultFileNotDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "vault.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	cfg := New()
	cfg.VaultPath = file
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestDataDir(t *testing.T) {
	cfg := New()
	cfg.VaultPath = "/vault"
	assert.Equal(t, filepath.Join("/vault", ".obsidianrag"), cfg.DataDir())
}
