package embed

import (
	"time"

	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
)

// FactoryConfig selects and configures an embedding provider chain.
type FactoryConfig struct {
	// Provider is "static" or "ollama".
	Provider string

	// Model is the model identifier for remote providers.
	Model string

	// Dimensions is the expected embedding dimension. For the static
	// provider it must be zero or StaticDimensions.
	Dimensions int

	// OllamaHost is the Ollama base URL.
	OllamaHost string

	// CacheSize is the LRU embedding cache size; zero means default.
	CacheSize int

	// MaxRetries is the retry budget for transient failures; zero means
	// default.
	MaxRetries int

	// Timeout bounds a single remote embedding request.
	Timeout time.Duration
}

// NewEmbedder builds the provider chain for the configured provider: the
// base embedder, retry for remote providers, and an LRU cache on top.
func NewEmbedder(cfg FactoryConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "static":
		if cfg.Dimensions != 0 && cfg.Dimensions != StaticDimensions {
			return nil, noterr.Newf(noterr.ErrCodeConfig,
				"static provider produces %d dimensions, config asks for %d",
				StaticDimensions, cfg.Dimensions)
		}
		return NewCachedEmbedder(NewStaticEmbedder(), cfg.CacheSize), nil

	case "ollama":
		base, err := NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		retrying := NewRetryingEmbedder(base, RetryConfig{MaxRetries: cfg.MaxRetries})
		return NewCachedEmbedder(retrying, cfg.CacheSize), nil

	default:
		return nil, noterr.Newf(noterr.ErrCodeConfig, "unknown embedding provider %q", cfg.Provider)
	}
}
