package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidzhangbj/smart-notes/internal/embed"
	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
	"github.com/davidzhangbj/smart-notes/internal/index"
	"github.com/davidzhangbj/smart-notes/internal/note"
	"github.com/davidzhangbj/smart-notes/internal/tokenizer"
)

// fakeSource is a map-backed NoteSource.
type fakeSource struct {
	mu    sync.Mutex
	notes map[string]*note.Note
}

func newFakeSource() *fakeSource {
	return &fakeSource{notes: make(map[string]*note.Note)}
}

func (s *fakeSource) put(n *note.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[n.ID] = n
}

func (s *fakeSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, id)
}

func (s *fakeSource) GetNote(_ context.Context, id string) (*note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok {
		return nil, noterr.Newf(noterr.ErrCodeNoteNotFound, "note %s not found", id)
	}
	return n, nil
}

func (s *fakeSource) ListNotes(_ context.Context) ([]*note.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*note.Note, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, n)
	}
	return out, nil
}

// toggleEmbedder delegates to the static embedder but can be switched into a
// failing state to exercise degradation paths.
type toggleEmbedder struct {
	*embed.StaticEmbedder
	failing atomic.Bool
}

func (e *toggleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.failing.Load() {
		return nil, noterr.Newf(noterr.ErrCodeEmbeddingUnavailable, "embedding provider down")
	}
	return e.StaticEmbedder.Embed(ctx, text)
}

func (e *toggleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.failing.Load() {
		return nil, noterr.Newf(noterr.ErrCodeEmbeddingUnavailable, "embedding provider down")
	}
	return e.StaticEmbedder.EmbedBatch(ctx, texts)
}

// gatedEmbedder delegates to the static embedder but, while the gate is set,
// parks Embed calls until released. Lets tests look at index state in the
// middle of a slow write.
type gatedEmbedder struct {
	*embed.StaticEmbedder
	gate    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{
		StaticEmbedder: embed.NewStaticEmbedder(),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (e *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.gate.Load() {
		e.entered <- struct{}{}
		<-e.release
	}
	return e.StaticEmbedder.Embed(ctx, text)
}

// semanticStubEmbedder assigns fixed directions to a handful of topics so
// tests can exercise embedding similarity deterministically, without a live
// model. Texts about containers land near each other, cooking lands far away.
type semanticStubEmbedder struct{}

func (semanticStubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "docker"):
		return []float32{0.95, 0.31, 0, 0}, nil
	case strings.Contains(lower, "kubernetes"):
		return []float32{0.90, 0, 0.43, 0}, nil
	case strings.Contains(lower, "container"):
		return []float32{1, 0, 0, 0}, nil
	case strings.Contains(lower, "bread"), strings.Contains(lower, "sourdough"):
		return []float32{0, 0, 0, 1}, nil
	default:
		return []float32{0, 1, 0, 0}, nil
	}
}

func (e semanticStubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (semanticStubEmbedder) Dimensions() int                { return 4 }
func (semanticStubEmbedder) ModelName() string              { return "semantic-stub" }
func (semanticStubEmbedder) Available(context.Context) bool { return true }
func (semanticStubEmbedder) Close() error                   { return nil }

type engineHarness struct {
	engine   *Engine
	source   *fakeSource
	embedder *toggleEmbedder
}

func newTestEngine(t *testing.T) *engineHarness {
	t.Helper()

	newKeyword := func() (index.KeywordIndex, error) {
		return index.NewMemoryKeywordIndex(index.KeywordConfig{}), nil
	}
	newVector := func() (index.VectorIndex, error) {
		return index.NewHNSWVectorIndex(index.VectorConfig{Dimensions: embed.StaticDimensions})
	}

	keyword, err := newKeyword()
	require.NoError(t, err)
	vector, err := newVector()
	require.NoError(t, err)

	embedder := &toggleEmbedder{StaticEmbedder: embed.NewStaticEmbedder()}
	source := newFakeSource()

	engine, err := NewEngine(keyword, vector, embedder, tokenizer.New(tokenizer.Config{}), EngineConfig{},
		WithNoteSource(source),
		WithIndexFactories(newKeyword, newVector),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return &engineHarness{engine: engine, source: source, embedder: embedder}
}

func (h *engineHarness) write(t *testing.T, n *note.Note) {
	t.Helper()
	h.source.put(n)
	require.NoError(t, h.engine.OnNoteWritten(context.Background(), n))
}

func mkNote(id, title, body string, tags ...string) *note.Note {
	now := time.Now()
	return &note.Note{
		ID:        id,
		Title:     title,
		Body:      body,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func resultIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.NoteID
	}
	return ids
}

func TestEngine_InvalidQuery(t *testing.T) {
	h := newTestEngine(t)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := h.engine.Search(context.Background(), q, Options{})
		require.Error(t, err)
		assert.ErrorIs(t, err, noterr.ErrInvalidQuery)
	}
}

func TestEngine_HybridSearch(t *testing.T) {
	h := newTestEngine(t)

	h.write(t, mkNote("docker", "Docker basics", "Running services with docker container orchestration and compose files", "devops"))
	h.write(t, mkNote("kube", "Kubernetes guide", "Cluster scheduling and container orchestration with kubernetes", "devops"))
	h.write(t, mkNote("bread", "Bread baking", "Sourdough starter feeding and baking schedule", "cooking"))

	resp, err := h.engine.Search(context.Background(), "container orchestration", Options{Limit: 10})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.GreaterOrEqual(t, len(resp.Results), 2)

	// The two notes sharing query vocabulary outrank the unrelated one.
	top := resultIDs(resp.Results[:2])
	assert.ElementsMatch(t, []string{"docker", "kube"}, top)

	first := resp.Results[0]
	assert.Greater(t, first.KeywordRank, 0)
	assert.Greater(t, first.VectorRank, 0)
	assert.Greater(t, first.FusedScore, 0.0)
	require.NotNil(t, first.Note, "results are enriched from the note source")
	assert.Equal(t, first.NoteID, first.Note.ID)
}

func TestEngine_SemanticMatchWithoutKeywordOverlap(t *testing.T) {
	embedder := semanticStubEmbedder{}
	keyword := index.NewMemoryKeywordIndex(index.KeywordConfig{})
	vector, err := index.NewHNSWVectorIndex(index.VectorConfig{Dimensions: embedder.Dimensions()})
	require.NoError(t, err)

	source := newFakeSource()
	engine, err := NewEngine(keyword, vector, embedder, tokenizer.New(tokenizer.Config{}), EngineConfig{},
		WithNoteSource(source))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	ctx := context.Background()
	for _, n := range []*note.Note{
		mkNote("docker", "Docker deployment", "Running services with docker compose files", "devops"),
		mkNote("kube", "Kubernetes guide", "Cluster scheduling and pod autoscaling with kubernetes", "devops"),
		mkNote("bread", "Bread baking recipes", "Sourdough starter feeding and baking schedule", "cooking"),
	} {
		source.put(n)
		require.NoError(t, engine.OnNoteWritten(ctx, n))
	}

	// The query shares no vocabulary with any note, so ranking is carried
	// entirely by embedding similarity.
	resp, err := engine.Search(ctx, "containerization", Options{Limit: 10})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.GreaterOrEqual(t, len(resp.Results), 2)

	top := resultIDs(resp.Results[:2])
	assert.ElementsMatch(t, []string{"docker", "kube"}, top, "container notes outrank the unrelated one")

	first := resp.Results[0]
	assert.Equal(t, 0, first.KeywordRank)
	assert.Greater(t, first.VectorRank, 0)
}

func TestEngine_WriteVisibleOnlyWhenComplete(t *testing.T) {
	embedder := newGatedEmbedder()
	keyword := index.NewMemoryKeywordIndex(index.KeywordConfig{})
	vector, err := index.NewHNSWVectorIndex(index.VectorConfig{Dimensions: embed.StaticDimensions})
	require.NoError(t, err)

	source := newFakeSource()
	engine, err := NewEngine(keyword, vector, embedder, tokenizer.New(tokenizer.Config{}), EngineConfig{},
		WithNoteSource(source))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	ctx := context.Background()
	n := mkNote("n1", "Docker", "docker container setup")
	source.put(n)

	embedder.gate.Store(true)
	done := make(chan error, 1)
	go func() { done <- engine.OnNoteWritten(ctx, n) }()
	<-embedder.entered
	// Only the parked indexing call is gated; query embeds pass through.
	embedder.gate.Store(false)

	// While the write is parked mid-embed, the note must not be visible in
	// either index, in any form.
	resp, err := engine.Search(ctx, "docker", Options{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "half-written note leaked into search results")
	assert.Equal(t, 0, engine.Stats().KeywordCount)
	assert.Equal(t, 0, engine.Stats().DegradedNotes)

	close(embedder.release)
	require.NoError(t, <-done)

	resp, err = engine.Search(ctx, "docker", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Greater(t, resp.Results[0].KeywordRank, 0)
	assert.Greater(t, resp.Results[0].VectorRank, 0)
}

func TestEngine_SearchDeterministic(t *testing.T) {
	h := newTestEngine(t)

	for i := 0; i < 10; i++ {
		h.write(t, mkNote(fmt.Sprintf("n%02d", i), "Meeting notes", "weekly planning meeting agenda and action items"))
	}

	ctx := context.Background()
	first, err := h.engine.Search(ctx, "planning meeting", Options{Limit: 5})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := h.engine.Search(ctx, "planning meeting", Options{Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, resultIDs(first.Results), resultIDs(again.Results))
	}
}

func TestEngine_WriteIdempotent(t *testing.T) {
	h := newTestEngine(t)

	n := mkNote("n1", "Docker", "docker container setup", "devops")
	h.write(t, n)

	ctx := context.Background()
	before, err := h.engine.Search(ctx, "docker", Options{})
	require.NoError(t, err)

	require.NoError(t, h.engine.OnNoteWritten(ctx, n))
	after, err := h.engine.Search(ctx, "docker", Options{})
	require.NoError(t, err)

	assert.Equal(t, before.Results, after.Results)
	assert.Equal(t, 1, h.engine.Stats().KeywordCount)
	assert.Equal(t, 1, h.engine.Stats().VectorCount)
}

func TestEngine_UpdateReplacesContent(t *testing.T) {
	h := newTestEngine(t)

	n := mkNote("n1", "Topic", "docker container setup")
	h.write(t, n)

	updated := mkNote("n1", "Topic", "sourdough bread baking")
	updated.UpdatedAt = n.UpdatedAt.Add(time.Second)
	h.write(t, updated)

	ctx := context.Background()
	resp, err := h.engine.Search(ctx, "docker", Options{})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, 1, r.KeywordRank, "old terms must not keyword-match after update")
	}

	resp, err = h.engine.Search(ctx, "sourdough bread", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "n1", resp.Results[0].NoteID)
}

func TestEngine_StaleEventIgnored(t *testing.T) {
	h := newTestEngine(t)

	v1 := mkNote("n1", "Topic", "docker container setup")
	v2 := mkNote("n1", "Topic", "sourdough bread baking")
	v2.UpdatedAt = v1.UpdatedAt.Add(time.Second)

	h.write(t, v2)
	// Replay the older event; it must not clobber the newer index state.
	require.NoError(t, h.engine.OnNoteWritten(context.Background(), v1))

	resp, err := h.engine.Search(context.Background(), "sourdough", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, 1, resp.Results[0].KeywordRank)
}

func TestEngine_DeleteCompleteness(t *testing.T) {
	h := newTestEngine(t)

	h.write(t, mkNote("n1", "Docker", "docker container setup"))
	h.write(t, mkNote("n2", "Kubernetes", "kubernetes container cluster"))

	ctx := context.Background()
	h.source.remove("n1")
	require.NoError(t, h.engine.OnNoteDeleted(ctx, "n1"))

	resp, err := h.engine.Search(ctx, "docker container", Options{Limit: 100})
	require.NoError(t, err)
	assert.NotContains(t, resultIDs(resp.Results), "n1")

	stats := h.engine.Stats()
	assert.Equal(t, 1, stats.KeywordCount)
	assert.Equal(t, 1, stats.VectorCount)

	// Deleting again is a no-op.
	require.NoError(t, h.engine.OnNoteDeleted(ctx, "n1"))
}

func TestEngine_DegradedKeywordOnlyScores(t *testing.T) {
	h := newTestEngine(t)

	h.write(t, mkNote("a", "Docker", "docker container setup"))
	h.write(t, mkNote("b", "Compose", "docker compose files"))

	h.embedder.failing.Store(true)

	resp, err := h.engine.Search(context.Background(), "docker", Options{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 2)

	// Degraded fusion is exactly the keyword term: no penalty for the
	// missing vector list and no normalization.
	assert.Equal(t, 1.0/61, resp.Results[0].FusedScore)
	assert.Equal(t, 1.0/62, resp.Results[1].FusedScore)
	assert.Equal(t, 0, resp.Results[0].VectorRank)
}

func TestEngine_DegradedWriteAndRepair(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	h.embedder.failing.Store(true)
	h.write(t, mkNote("n1", "Docker", "docker container setup"))

	stats := h.engine.Stats()
	assert.Equal(t, 1, stats.KeywordCount)
	assert.Equal(t, 0, stats.VectorCount, "embedding failed, no vector stored")
	assert.Equal(t, 1, stats.DegradedNotes)

	// Keyword search still finds the note.
	resp, err := h.engine.Search(ctx, "docker", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	// Provider recovers; repair restores the vector.
	h.embedder.failing.Store(false)
	repaired, err := h.engine.RetryDegraded(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	stats = h.engine.Stats()
	assert.Equal(t, 1, stats.VectorCount)
	assert.Equal(t, 0, stats.DegradedNotes)

	resp, err = h.engine.Search(ctx, "docker", Options{})
	require.NoError(t, err)
	assert.False(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Greater(t, resp.Results[0].VectorRank, 0)
}

func TestEngine_TagFilter(t *testing.T) {
	h := newTestEngine(t)

	h.write(t, mkNote("n1", "Docker", "docker container setup", "devops", "infra"))
	h.write(t, mkNote("n2", "Compose", "docker compose files", "devops"))
	h.write(t, mkNote("n3", "Notes", "docker mentioned in passing", "journal"))

	ctx := context.Background()

	resp, err := h.engine.Search(ctx, "docker", Options{Tags: []string{"devops"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"n1", "n2"}, resultIDs(resp.Results))

	// Multiple tags require all of them.
	resp, err = h.engine.Search(ctx, "docker", Options{Tags: []string{"devops", "infra"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, resultIDs(resp.Results))

	// Tag matching is case-insensitive.
	resp, err = h.engine.Search(ctx, "docker", Options{Tags: []string{"DevOps"}})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)

	resp, err = h.engine.Search(ctx, "docker", Options{Tags: []string{"missing"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestEngine_KeywordOnlyOption(t *testing.T) {
	h := newTestEngine(t)

	h.write(t, mkNote("n1", "Docker", "docker container setup"))

	resp, err := h.engine.Search(context.Background(), "docker", Options{KeywordOnly: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0, resp.Results[0].VectorRank)
	assert.Equal(t, 1.0/61, resp.Results[0].FusedScore)
}

func TestEngine_LimitApplied(t *testing.T) {
	h := newTestEngine(t)

	for i := 0; i < 30; i++ {
		h.write(t, mkNote(fmt.Sprintf("n%02d", i), "Docker", "docker container setup"))
	}

	ctx := context.Background()
	resp, err := h.engine.Search(ctx, "docker", Options{})
	require.NoError(t, err)
	assert.Len(t, resp.Results, DefaultLimit)

	resp, err = h.engine.Search(ctx, "docker", Options{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)

	resp, err = h.engine.Search(ctx, "docker", Options{Limit: 10_000})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Results), DefaultMaxLimit)
}

func TestEngine_RebuildCompactsAndPreservesResults(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		h.write(t, mkNote(fmt.Sprintf("keep%02d", i), "Docker", "docker container setup"))
	}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("gone%02d", i)
		h.write(t, mkNote(id, "Temp", "temporary scratch note"))
		h.source.remove(id)
		require.NoError(t, h.engine.OnNoteDeleted(ctx, id))
	}

	assert.Equal(t, 5, h.engine.Stats().VectorOrphans)

	before, err := h.engine.Search(ctx, "docker container", Options{Limit: 20})
	require.NoError(t, err)

	require.NoError(t, h.engine.Rebuild(ctx))

	stats := h.engine.Stats()
	assert.Equal(t, 0, stats.VectorOrphans, "rebuild compacts lazily deleted nodes")
	assert.Equal(t, 10, stats.KeywordCount)
	assert.Equal(t, 10, stats.VectorCount)
	assert.False(t, stats.LastRebuild.IsZero())

	after, err := h.engine.Search(ctx, "docker container", Options{Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, resultIDs(before.Results), resultIDs(after.Results))

	require.NoError(t, h.engine.CheckConsistency())
}

func TestEngine_CheckConsistency(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	h.write(t, mkNote("n1", "Docker", "docker container setup"))
	require.NoError(t, h.engine.CheckConsistency())

	// Simulate a lost keyword write.
	require.NoError(t, h.engine.keyword.Remove("n1"))

	err := h.engine.CheckConsistency()
	require.Error(t, err)
	assert.ErrorIs(t, err, noterr.ErrIndexCorruption)

	require.NoError(t, h.engine.Rebuild(ctx))
	require.NoError(t, h.engine.CheckConsistency())
}

func TestEngine_SkipsIndexEntriesWithoutStoredNote(t *testing.T) {
	h := newTestEngine(t)

	h.write(t, mkNote("n1", "Docker", "docker container setup"))
	h.write(t, mkNote("n2", "Compose", "docker compose files"))

	// The note vanishes from the store but not from the indexes.
	h.source.remove("n2")

	resp, err := h.engine.Search(context.Background(), "docker", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, resultIDs(resp.Results))
}

func TestEngine_ConcurrentWritesAndQueries(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				n := mkNote(fmt.Sprintf("w%d-n%02d", w, i), "Docker", "docker container setup")
				h.source.put(n)
				assert.NoError(t, h.engine.OnNoteWritten(ctx, n))
			}
		}(w)
	}
	for q := 0; q < 4; q++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := h.engine.Search(ctx, "docker", Options{})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	stats := h.engine.Stats()
	assert.Equal(t, 100, stats.KeywordCount)
	assert.Equal(t, 100, stats.VectorCount)
	require.NoError(t, h.engine.CheckConsistency())
}

func BenchmarkEngine_Search1kNotes(b *testing.B) {
	keyword := index.NewMemoryKeywordIndex(index.KeywordConfig{})
	vector, err := index.NewHNSWVectorIndex(index.VectorConfig{Dimensions: embed.StaticDimensions})
	if err != nil {
		b.Fatal(err)
	}

	source := newFakeSource()
	engine, err := NewEngine(keyword, vector, embed.NewStaticEmbedder(), tokenizer.New(tokenizer.Config{}), EngineConfig{},
		WithNoteSource(source))
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = engine.Close() }()

	ctx := context.Background()
	topics := []string{"docker deployment", "kubernetes cluster", "bread baking", "meeting agenda", "reading list"}
	for i := 0; i < 1000; i++ {
		n := mkNote(fmt.Sprintf("n%04d", i), topics[i%len(topics)],
			fmt.Sprintf("note %d about %s with some extra body text", i, topics[i%len(topics)]))
		source.put(n)
		if err := engine.OnNoteWritten(ctx, n); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Search(ctx, "docker deployment", Options{Limit: 10}); err != nil {
			b.Fatal(err)
		}
	}
}
