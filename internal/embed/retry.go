package embed

import (
	"context"
	"time"

	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
)

// RetryConfig configures retry behavior for transient embedding failures.
type RetryConfig struct {
	MaxRetries   int           // Retry attempts, not counting the initial try
	InitialDelay time.Duration // Delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryingEmbedder wraps an Embedder and retries transient failures with
// exponential backoff. Non-retryable errors, a dimension mismatch for
// instance, pass straight through.
type RetryingEmbedder struct {
	inner  Embedder
	config RetryConfig
}

var _ Embedder = (*RetryingEmbedder)(nil)

// NewRetryingEmbedder wraps inner with retry behavior.
func NewRetryingEmbedder(inner Embedder, cfg RetryConfig) *RetryingEmbedder {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultRetryConfig().InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	return &RetryingEmbedder{inner: inner, config: cfg}
}

// withRetry executes fn with exponential backoff. Context cancellation wins
// over both the attempt and the backoff sleep.
func (r *RetryingEmbedder) withRetry(ctx context.Context, fn func() error) error {
	delay := r.config.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !noterr.IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt >= r.config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * r.config.Multiplier)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	return noterr.Wrapf(noterr.ErrCodeEmbeddingUnavailable, lastErr,
		"embedding failed after %d retries: %v", r.config.MaxRetries, lastErr)
}

// Embed generates the embedding for a single text, retrying transient errors.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.withRetry(ctx, func() error {
		var embedErr error
		vec, embedErr = r.inner.Embed(ctx, text)
		return embedErr
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, retrying the whole
// batch on transient errors.
func (r *RetryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := r.withRetry(ctx, func() error {
		var embedErr error
		vecs, embedErr = r.inner.EmbedBatch(ctx, texts)
		return embedErr
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (r *RetryingEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (r *RetryingEmbedder) ModelName() string {
	return r.inner.ModelName()
}

// Available checks if the embedder is ready (passthrough to inner).
func (r *RetryingEmbedder) Available(ctx context.Context) bool {
	return r.inner.Available(ctx)
}

// Close releases resources and closes the inner embedder.
func (r *RetryingEmbedder) Close() error {
	return r.inner.Close()
}
