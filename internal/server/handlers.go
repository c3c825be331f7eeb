package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
	"github.com/davidzhangbj/smart-notes/internal/note"
	"github.com/davidzhangbj/smart-notes/internal/search"
	"github.com/davidzhangbj/smart-notes/internal/store"
)

// notePayload is the create/update request body. Pointer fields distinguish
// "absent" from "empty" for partial updates.
type notePayload struct {
	Title *string   `json:"title"`
	Body  *string   `json:"content"`
	Tags  *[]string `json:"tags"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var payload notePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, noterr.Newf(noterr.ErrCodeValidation, "invalid request body: %v", err))
		return
	}

	var title, body string
	var tags []string
	if payload.Title != nil {
		title = *payload.Title
	}
	if payload.Body != nil {
		body = *payload.Body
	}
	if payload.Tags != nil {
		tags = *payload.Tags
	}

	n, err := s.store.CreateNote(r.Context(), title, body, tags)
	if err != nil {
		respondError(w, err)
		return
	}

	s.notifyWritten(r, n)
	respond(w, http.StatusCreated, n)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, n)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var payload notePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, noterr.Newf(noterr.ErrCodeValidation, "invalid request body: %v", err))
		return
	}

	id := chi.URLParam(r, "id")
	n, err := s.store.UpdateNote(r.Context(), id, store.UpdateParams{
		Title: payload.Title,
		Body:  payload.Body,
		Tags:  payload.Tags,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	s.notifyWritten(r, n)
	respond(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteNote(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	if s.engine != nil {
		if err := s.engine.OnNoteDeleted(r.Context(), id); err != nil {
			s.logger.Error("index delete failed, indexes need a rebuild",
				slog.String("note_id", id),
				slog.String("error", err.Error()))
		}
	}
	respond(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var err error
	var notes any
	if tag := r.URL.Query().Get("tag"); tag != "" {
		notes, err = s.store.ListNotesByTag(ctx, tag)
	} else {
		notes, err = s.store.ListNotes(ctx)
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, notes)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, noterr.Newf(noterr.ErrCodeConfig, "search engine not configured"))
		return
	}

	q := r.URL.Query()
	opts := search.Options{KeywordOnly: q.Get("keyword_only") == "true"}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, noterr.Newf(noterr.ErrCodeValidation, "limit must be a non-negative integer"))
			return
		}
		opts.Limit = limit
	}
	// Both ?tag=a&tag=b and ?tags=a,b are accepted.
	raw := append([]string(nil), q["tag"]...)
	raw = append(raw, strings.Split(q.Get("tags"), ",")...)
	for _, tag := range raw {
		if tag = strings.TrimSpace(tag); tag != "" {
			opts.Tags = append(opts.Tags, tag)
		}
	}

	resp, err := s.engine.Search(r.Context(), q.Get("q"), opts)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, resp)
}

func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.TagCounts(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, counts)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	notes, err := s.store.ListNotes(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"exported_at": time.Now().UTC(),
		"count":       len(notes),
		"notes":       notes,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountNotes(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	health := map[string]any{
		"status":     "ok",
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"note_count": count,
	}
	if s.engine != nil {
		health["index"] = s.engine.Stats()
		if err := s.engine.CheckConsistency(); err != nil {
			health["status"] = "degraded"
			health["index_error"] = err.Error()
		}
	}
	if s.metrics != nil {
		health["queries"] = s.metrics.Snapshot()
	}
	respond(w, http.StatusOK, health)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, noterr.Newf(noterr.ErrCodeConfig, "search engine not configured"))
		return
	}
	if err := s.engine.Rebuild(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, s.engine.Stats())
}

// notifyWritten reports a committed write to the search engine. Index
// failures don't fail the request; the store is the source of truth and a
// rebuild reconciles the indexes.
func (s *Server) notifyWritten(r *http.Request, n *note.Note) {
	if s.engine == nil {
		return
	}
	if err := s.engine.OnNoteWritten(r.Context(), n); err != nil {
		s.logger.Error("index write failed, indexes need a rebuild",
			slog.String("note_id", n.ID),
			slog.String("error", err.Error()))
	}
}
