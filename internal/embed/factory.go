package embed

import (
	"context"
	"fmt"
	"time"
)

// FactoryConfig selects and configures an embedding backend.
type FactoryConfig struct {
	// Provider is "ollama" or "static".
	Provider string

	// Model is the embedding model name (ollama only).
	Model string

	// BaseURL is the model host (ollama only).
	BaseURL string

	// Timeout is the per-request timeout (ollama only).
	Timeout time.Duration

	// CacheSize sizes the LRU wrapper; 0 uses the default.
	CacheSize int
}

// NewEmbedder builds the configured backend wrapped in an LRU cache.
func NewEmbedder(ctx context.Context, cfg FactoryConfig) (Embedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "static":
		inner = NewStaticEmbedder()
	case "ollama", "":
		e, err := NewOllamaEmbedder(ctx, OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
