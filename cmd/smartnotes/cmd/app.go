package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidzhangbj/smart-notes/internal/config"
	"github.com/davidzhangbj/smart-notes/internal/embed"
	"github.com/davidzhangbj/smart-notes/internal/index"
	"github.com/davidzhangbj/smart-notes/internal/search"
	"github.com/davidzhangbj/smart-notes/internal/store"
	"github.com/davidzhangbj/smart-notes/internal/telemetry"
	"github.com/davidzhangbj/smart-notes/internal/tokenizer"
)

// app bundles the wired components behind a command. The indexes live in
// process memory and are warmed from the store snapshot on startup.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	engine   *search.Engine
	embedder embed.Embedder
	metrics  *telemetry.QueryMetrics
	registry *prometheus.Registry
}

// openStore opens just the note store. CRUD commands use this; they never
// need the indexes.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return store.NewSQLiteStore(filepath.Join(cfg.DataDir, "notes.db"))
}

// openApp opens the note store and builds the search engine for cfg,
// then populates the indexes from the stored notes.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	a, err := buildEngine(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	if err := a.engine.Rebuild(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("build indexes from store: %w", err)
	}
	return a, nil
}

func buildEngine(cfg *config.Config, st *store.SQLiteStore) (*app, error) {
	embedder, err := embed.NewEmbedder(embed.FactoryConfig{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		OllamaHost: cfg.Embeddings.OllamaHost,
		CacheSize:  cfg.Embeddings.CacheSize,
		MaxRetries: cfg.Embeddings.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	keywordCfg := index.KeywordConfig{K1: cfg.Search.BM25K1, B: cfg.Search.BM25B}
	newKeyword := func() (index.KeywordIndex, error) {
		return index.NewKeywordIndex(cfg.Search.KeywordBackend, keywordCfg)
	}
	vectorCfg := index.VectorConfig{
		Dimensions: embedder.Dimensions(),
		M:          cfg.Search.HNSWM,
		EfSearch:   cfg.Search.HNSWEfSearch,
	}
	newVector := func() (index.VectorIndex, error) {
		return index.NewHNSWVectorIndex(vectorCfg)
	}

	keyword, err := newKeyword()
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	vector, err := newVector()
	if err != nil {
		_ = keyword.Close()
		_ = embedder.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewQueryMetrics(registry)

	tok := tokenizer.New(tokenizer.Config{StopWords: cfg.Search.StopWords})
	engine, err := search.NewEngine(keyword, vector, embedder, tok, search.EngineConfig{
		RRFConstant:       cfg.Search.RRFConstant,
		DefaultLimit:      cfg.Search.DefaultLimit,
		MaxLimit:          cfg.Search.MaxLimit,
		EmbedQueryTimeout: time.Duration(cfg.Search.EmbedQueryTimeout),
	},
		search.WithNoteSource(st),
		search.WithIndexFactories(newKeyword, newVector),
		search.WithMetrics(metrics),
	)
	if err != nil {
		_ = vector.Close()
		_ = keyword.Close()
		_ = embedder.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		store:    st,
		engine:   engine,
		embedder: embedder,
		metrics:  metrics,
		registry: registry,
	}, nil
}

// Close releases everything. The engine owns the indexes and the embedder.
func (a *app) Close() {
	if a.engine != nil {
		_ = a.engine.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
