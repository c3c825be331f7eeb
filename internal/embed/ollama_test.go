package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
)

func newOllamaTestServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			w.WriteHeader(http.StatusOK)
		case "/api/embed":
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp := ollamaEmbedResponse{Embeddings: make([][]float32, len(req.Input))}
			for i := range req.Input {
				vec := make([]float32, dims)
				vec[i%dims] = 1
				resp.Embeddings[i] = vec
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	srv := newOllamaTestServer(t, 8)
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "test-model", Dimensions: 8})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	ctx := context.Background()
	assert.True(t, e.Available(ctx))

	vecs, err := e.EmbedBatch(ctx, []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 8)

	vec, err := e.Embed(ctx, "one")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestOllamaEmbedder_DimensionMismatchFromModel(t *testing.T) {
	srv := newOllamaTestServer(t, 8)
	defer srv.Close()

	// Configured for 16, server produces 8.
	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "test-model", Dimensions: 16})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Embed(context.Background(), "one")
	require.Error(t, err)
	assert.ErrorIs(t, err, noterr.ErrDimensionMismatch)
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "missing", Dimensions: 8})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Embed(context.Background(), "one")
	require.Error(t, err)
	assert.ErrorIs(t, err, noterr.ErrEmbeddingUnavailable)
	assert.True(t, noterr.IsRetryable(err))
}

func TestOllamaEmbedder_ServerDown(t *testing.T) {
	srv := newOllamaTestServer(t, 8)
	srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "test-model", Dimensions: 8})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.False(t, e.Available(context.Background()))

	_, err = e.Embed(context.Background(), "one")
	require.Error(t, err)
	assert.ErrorIs(t, err, noterr.ErrEmbeddingUnavailable)
}

func TestOllamaEmbedder_Validation(t *testing.T) {
	_, err := NewOllamaEmbedder(OllamaConfig{})
	assert.Error(t, err, "dimension is required")

	srv := newOllamaTestServer(t, 8)
	defer srv.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Dimensions: 8})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, DefaultOllamaModel, e.ModelName())
	assert.Equal(t, 8, e.Dimensions())

	tooMany := make([]string, MaxBatchSize+1)
	_, err = e.EmbedBatch(context.Background(), tooMany)
	require.Error(t, err)
	assert.Equal(t, noterr.ErrCodeValidation, noterr.CodeOf(err))
}

func TestNewEmbedder_Factory(t *testing.T) {
	static, err := NewEmbedder(FactoryConfig{Provider: "static"})
	require.NoError(t, err)
	assert.Equal(t, StaticDimensions, static.Dimensions())
	assert.IsType(t, &CachedEmbedder{}, static)
	_ = static.Close()

	_, err = NewEmbedder(FactoryConfig{Provider: "static", Dimensions: 512})
	assert.Error(t, err, "static provider has a fixed dimension")

	ollama, err := NewEmbedder(FactoryConfig{Provider: "ollama", Dimensions: 768})
	require.NoError(t, err)
	assert.Equal(t, 768, ollama.Dimensions())
	_ = ollama.Close()

	_, err = NewEmbedder(FactoryConfig{Provider: "openai"})
	require.Error(t, err)
	assert.Equal(t, noterr.ErrCodeConfig, noterr.CodeOf(err))
}
