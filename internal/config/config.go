// Package config defines the frozen server configuration record and its
// load chain: defaults, optional YAML file, OBSIDIANRAG_* environment
// overrides, then CLI flags applied by the command layer.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	ragerrors "github.com/obsidianrag/obsidianrag/internal/errors"
)

// Config is the complete server configuration. It is resolved once at
// startup and treated as immutable afterwards.
type Config struct {
	// VaultPath is the root directory of the Markdown vault.
	VaultPath string `yaml:"vault_path"`

	// BindPort is the loopback port the HTTP server listens on.
	BindPort int `yaml:"bind_port"`

	// LLMModel is the generation model name passed to the model host.
	LLMModel string `yaml:"llm_model"`

	// LLMTemperature is the sampling temperature for generation. Kept
	// low so answers stay grounded in the retrieved notes.
	LLMTemperature float64 `yaml:"llm_temperature"`

	// EmbedderProvider selects the embedding backend: "ollama" or "static".
	EmbedderProvider string `yaml:"embedder_provider"`

	// EmbedderModel is the embedding model name (ollama provider only).
	EmbedderModel string `yaml:"embedder_model"`

	// ChunkSize is the chunk window size in characters.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the overlap between consecutive chunks in characters.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// RetrievalK is the number of candidates fetched from the vector store.
	RetrievalK int `yaml:"retrieval_k"`

	// BM25K is the number of candidates fetched from the lexical index.
	BM25K int `yaml:"bm25_k"`

	// VectorWeight and BM25Weight control score fusion. They must sum to 1.
	VectorWeight float64 `yaml:"vector_weight"`
	BM25Weight   float64 `yaml:"bm25_weight"`

	// UseReranker enables the cross-encoder reranking stage.
	UseReranker bool `yaml:"use_reranker"`

	// RerankerTopN is how many candidates survive reranking.
	RerankerTopN int `yaml:"reranker_top_n"`

	// RerankerURL is the cross-encoder scoring endpoint.
	RerankerURL string `yaml:"reranker_url"`

	// MinScore drops weak candidates before prompt assembly.
	MinScore float64 `yaml:"min_score"`

	// OllamaBaseURL is the base URL of the Ollama-compatible model host.
	OllamaBaseURL string `yaml:"ollama_base_url"`

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// WatchVault enables live incremental reindexing via fsnotify.
	WatchVault bool `yaml:"watch_vault"`

	// WatchDebounce is the debounce window for file events.
	WatchDebounce string `yaml:"watch_debounce"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		BindPort:         8000,
		LLMModel:         "llama3.1:8b",
		LLMTemperature:   0.1,
		EmbedderProvider: "ollama",
		EmbedderModel:    "nomic-embed-text",
		ChunkSize:        1500,
		ChunkOverlap:     300,
		RetrievalK:       12,
		BM25K:            5,
		VectorWeight:     0.6,
		BM25Weight:       0.4,
		UseReranker:      false,
		RerankerTopN:     6,
		RerankerURL:      "http://localhost:9659/rerank",
		MinScore:         0.3,
		OllamaBaseURL:    "http://localhost:11434",
		LogLevel:         "info",
		WatchVault:       true,
		WatchDebounce:    "500ms",
	}
}

// Load resolves configuration from defaults, an optional YAML file, and
// OBSIDIANRAG_* environment variables, in that order of precedence.
// configPath may be empty, in which case obsidianrag.yaml next to the
// working directory is tried.
func Load(configPath string) (*Config, error) {
	cfg := New()

	if err := cfg.loadFromFile(configPath); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	return cfg, nil
}

// loadFromFile merges a YAML config file if one exists.
func (c *Config) loadFromFile(path string) error {
	if path == "" {
		path = "obsidianrag.yaml"
		if _, err := os.Stat(path); err != nil {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.VaultPath != "" {
		c.VaultPath = other.VaultPath
	}
	if other.BindPort != 0 {
		c.BindPort = other.BindPort
	}
	if other.LLMModel != "" {
		c.LLMModel = other.LLMModel
	}
	if other.LLMTemperature != 0 {
		c.LLMTemperature = other.LLMTemperature
	}
	if other.EmbedderProvider != "" {
		c.EmbedderProvider = other.EmbedderProvider
	}
	if other.EmbedderModel != "" {
		c.EmbedderModel = other.EmbedderModel
	}
	if other.ChunkSize != 0 {
		c.ChunkSize = other.ChunkSize
	}
	if other.ChunkOverlap != 0 {
		c.ChunkOverlap = other.ChunkOverlap
	}
	if other.RetrievalK != 0 {
		c.RetrievalK = other.RetrievalK
	}
	if other.BM25K != 0 {
		c.BM25K = other.BM25K
	}
	if other.VectorWeight != 0 {
		c.VectorWeight = other.VectorWeight
	}
	if other.BM25Weight != 0 {
		c.BM25Weight = other.BM25Weight
	}
	if other.UseReranker {
		c.UseReranker = true
	}
	if other.RerankerTopN != 0 {
		c.RerankerTopN = other.RerankerTopN
	}
	if other.RerankerURL != "" {
		c.RerankerURL = other.RerankerURL
	}
	if other.MinScore != 0 {
		c.MinScore = other.MinScore
	}
	if other.OllamaBaseURL != "" {
		c.OllamaBaseURL = other.OllamaBaseURL
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.WatchDebounce != "" {
		c.WatchDebounce = other.WatchDebounce
	}
}

// applyEnvOverrides applies OBSIDIANRAG_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OBSIDIANRAG_VAULT_PATH"); v != "" {
		c.VaultPath = v
	}
	if v := os.Getenv("OBSIDIANRAG_BIND_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.BindPort = p
		}
	}
	if v := os.Getenv("OBSIDIANRAG_LLM_MODEL"); v != "" {
		c.LLMModel = v
	}
	if v := os.Getenv("OBSIDIANRAG_LLM_TEMPERATURE"); v != "" {
		if temp, err := strconv.ParseFloat(v, 64); err == nil && temp >= 0 && temp <= 2 {
			c.LLMTemperature = temp
		}
	}
	if v := os.Getenv("OBSIDIANRAG_EMBEDDER_PROVIDER"); v != "" {
		c.EmbedderProvider = v
	}
	if v := os.Getenv("OBSIDIANRAG_EMBEDDER_MODEL"); v != "" {
		c.EmbedderModel = v
	}
	if v := os.Getenv("OBSIDIANRAG_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.VectorWeight = w
		}
	}
	if v := os.Getenv("OBSIDIANRAG_BM25_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.BM25Weight = w
		}
	}
	if v := os.Getenv("OBSIDIANRAG_USE_RERANKER"); v != "" {
		c.UseReranker = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("OBSIDIANRAG_MIN_SCORE"); v != "" {
		if s, err := strconv.ParseFloat(v, 64); err == nil && s >= 0 && s <= 1 {
			c.MinScore = s
		}
	}
	if v := os.Getenv("OBSIDIANRAG_OLLAMA_BASE_URL"); v != "" {
		c.OllamaBaseURL = v
	}
	if v := os.Getenv("OBSIDIANRAG_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the resolved configuration. A missing or unreadable
// vault is fatal: the server must not start against a vault it cannot see.
func (c *Config) Validate() error {
	if c.VaultPath == "" {
		return ragerrors.New(ragerrors.CategoryVaultMissing, "vault_path is required", nil)
	}
	info, err := os.Stat(c.VaultPath)
	if err != nil {
		return ragerrors.New(ragerrors.CategoryVaultMissing,
			fmt.Sprintf("vault_path %s is not accessible", c.VaultPath), err)
	}
	if !info.IsDir() {
		return ragerrors.New(ragerrors.CategoryVaultMissing,
			fmt.Sprintf("vault_path %s is not a directory", c.VaultPath), nil)
	}

	if c.BindPort <= 0 || c.BindPort > 65535 {
		return fmt.Errorf("bind_port must be in 1-65535, got %d", c.BindPort)
	}

	if c.VectorWeight < 0 || c.VectorWeight > 1 {
		return fmt.Errorf("vector_weight must be between 0 and 1, got %f", c.VectorWeight)
	}
	if c.BM25Weight < 0 || c.BM25Weight > 1 {
		return fmt.Errorf("bm25_weight must be between 0 and 1, got %f", c.BM25Weight)
	}
	if sum := c.VectorWeight + c.BM25Weight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("vector_weight + bm25_weight must equal 1.0, got %.2f", sum)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap)
	}

	if c.RetrievalK <= 0 {
		return fmt.Errorf("retrieval_k must be positive, got %d", c.RetrievalK)
	}
	if c.BM25K <= 0 {
		return fmt.Errorf("bm25_k must be positive, got %d", c.BM25K)
	}
	if c.RerankerTopN <= 0 {
		return fmt.Errorf("reranker_top_n must be positive, got %d", c.RerankerTopN)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("min_score must be between 0 and 1, got %f", c.MinScore)
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("llm_temperature must be between 0 and 2, got %f", c.LLMTemperature)
	}

	validProviders := map[string]bool{"ollama": true, "static": true}
	if !validProviders[strings.ToLower(c.EmbedderProvider)] {
		return fmt.Errorf("embedder_provider must be 'ollama' or 'static', got %s", c.EmbedderProvider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// DataDir returns the vault-local directory for all derived state:
// the vector database, manifest, lock file, and logs.
func (c *Config) DataDir() string {
	return filepath.Join(c.VaultPath, ".obsidianrag")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
