package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidzhangbj/smart-notes/internal/embed"
	"github.com/davidzhangbj/smart-notes/internal/index"
	"github.com/davidzhangbj/smart-notes/internal/search"
	"github.com/davidzhangbj/smart-notes/internal/store"
	"github.com/davidzhangbj/smart-notes/internal/telemetry"
	"github.com/davidzhangbj/smart-notes/internal/tokenizer"
)

type testAPI struct {
	srv *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	st, err := store.NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

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

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewQueryMetrics(registry)

	engine, err := search.NewEngine(keyword, vector, embed.NewStaticEmbedder(), tokenizer.New(tokenizer.Config{}), search.EngineConfig{},
		search.WithNoteSource(st),
		search.WithIndexFactories(newKeyword, newVector),
		search.WithMetrics(metrics),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	s := New(Config{}, st, engine, metrics, registry, nil)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	return &testAPI{srv: srv}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*http.Response, envelope) {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, a.srv.URL+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func (a *testAPI) createNote(t *testing.T, title, body string, tags []string) string {
	t.Helper()
	resp, env := a.do(t, http.MethodPost, "/api/notes", map[string]any{
		"title": title, "content": body, "tags": tags,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, env.Success)

	data := env.Data.(map[string]any)
	return data["id"].(string)
}

func TestAPI_NoteCRUD(t *testing.T) {
	api := newTestAPI(t)

	id := api.createNote(t, "Docker notes", "Container orchestration setup", []string{"devops"})

	resp, env := api.do(t, http.MethodGet, "/api/notes/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := env.Data.(map[string]any)
	assert.Equal(t, "Docker notes", data["title"])
	assert.Equal(t, "Container orchestration setup", data["content"])

	resp, env = api.do(t, http.MethodPut, "/api/notes/"+id, map[string]any{"content": "Updated content"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data = env.Data.(map[string]any)
	assert.Equal(t, "Docker notes", data["title"], "partial update keeps the title")
	assert.Equal(t, "Updated content", data["content"])

	resp, _ = api.do(t, http.MethodDelete, "/api/notes/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = api.do(t, http.MethodGet, "/api/notes/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, env.Success)
	assert.Equal(t, "ERR_NOTE_NOT_FOUND", env.Error.Code)
}

func TestAPI_ValidationErrors(t *testing.T) {
	api := newTestAPI(t)

	longTitle := make([]byte, 201)
	for i := range longTitle {
		longTitle[i] = 'x'
	}
	resp, env := api.do(t, http.MethodPost, "/api/notes", map[string]any{
		"title": string(longTitle), "content": "body",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ERR_VALIDATION", env.Error.Code)
}

func TestAPI_ListAndTagFilter(t *testing.T) {
	api := newTestAPI(t)

	api.createNote(t, "A", "docker body", []string{"devops"})
	time.Sleep(2 * time.Millisecond)
	api.createNote(t, "B", "bread body", []string{"cooking"})

	resp, env := api.do(t, http.MethodGet, "/api/notes", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	notes := env.Data.([]any)
	require.Len(t, notes, 2)
	assert.Equal(t, "B", notes[0].(map[string]any)["title"], "newest first")

	_, env = api.do(t, http.MethodGet, "/api/notes?tag=devops", nil)
	notes = env.Data.([]any)
	require.Len(t, notes, 1)
	assert.Equal(t, "A", notes[0].(map[string]any)["title"])
}

func TestAPI_Search(t *testing.T) {
	api := newTestAPI(t)

	dockerID := api.createNote(t, "Docker", "docker container orchestration", []string{"devops"})
	api.createNote(t, "Bread", "sourdough bread baking", []string{"cooking"})

	resp, env := api.do(t, http.MethodGet, "/api/search?q=docker+container", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)

	data := env.Data.(map[string]any)
	results := data["results"].([]any)
	require.NotEmpty(t, results)
	first := results[0].(map[string]any)
	assert.Equal(t, dockerID, first["note_id"])
	assert.NotNil(t, first["note"], "results are enriched with full notes")

	// Tag filter narrows results; both parameter spellings work.
	_, env = api.do(t, http.MethodGet, "/api/search?q=docker&tags=cooking", nil)
	data = env.Data.(map[string]any)
	assert.Empty(t, data["results"])

	_, env = api.do(t, http.MethodGet, "/api/search?q=docker&tag=devops", nil)
	data = env.Data.(map[string]any)
	require.Len(t, data["results"], 1)

	// Empty query is invalid.
	resp, env = api.do(t, http.MethodGet, "/api/search?q=", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ERR_INVALID_QUERY", env.Error.Code)

	resp, env = api.do(t, http.MethodGet, "/api/search?q=docker&limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ERR_VALIDATION", env.Error.Code)
}

func TestAPI_TagsAndExport(t *testing.T) {
	api := newTestAPI(t)

	api.createNote(t, "A", "body", []string{"devops", "docker"})
	api.createNote(t, "B", "body", []string{"devops"})

	_, env := api.do(t, http.MethodGet, "/api/tags", nil)
	tags := env.Data.([]any)
	require.Len(t, tags, 2)
	first := tags[0].(map[string]any)
	assert.Equal(t, "devops", first["tag"])
	assert.Equal(t, float64(2), first["count"])

	_, env = api.do(t, http.MethodGet, "/api/export", nil)
	data := env.Data.(map[string]any)
	assert.Equal(t, float64(2), data["count"])
	assert.Len(t, data["notes"].([]any), 2)
}

func TestAPI_HealthAndRebuild(t *testing.T) {
	api := newTestAPI(t)

	for i := 0; i < 3; i++ {
		api.createNote(t, fmt.Sprintf("Note %d", i), "docker body", nil)
	}

	resp, env := api.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := env.Data.(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, float64(3), data["note_count"])

	resp, env = api.do(t, http.MethodPost, "/api/rebuild", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	stats := env.Data.(map[string]any)
	assert.Equal(t, float64(3), stats["keyword_count"])
	assert.Equal(t, float64(3), stats["vector_count"])
}

func TestAPI_WritesAreSearchableImmediately(t *testing.T) {
	api := newTestAPI(t)

	id := api.createNote(t, "Kubernetes", "kubernetes cluster scheduling", nil)

	_, env := api.do(t, http.MethodGet, "/api/search?q=kubernetes", nil)
	data := env.Data.(map[string]any)
	results := data["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].(map[string]any)["note_id"])

	// After deletion the note disappears from search as well.
	api.do(t, http.MethodDelete, "/api/notes/"+id, nil)
	_, env = api.do(t, http.MethodGet, "/api/search?q=kubernetes", nil)
	data = env.Data.(map[string]any)
	assert.Empty(t, data["results"])
}

func TestAPI_Metrics(t *testing.T) {
	api := newTestAPI(t)

	api.createNote(t, "Docker", "docker body", nil)
	api.do(t, http.MethodGet, "/api/search?q=docker", nil)

	resp, err := http.Get(api.srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "smartnotes_searches_total")
}
