package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davidzhangbj/smart-notes/internal/embed"
	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
	"github.com/davidzhangbj/smart-notes/internal/index"
	"github.com/davidzhangbj/smart-notes/internal/note"
	"github.com/davidzhangbj/smart-notes/internal/telemetry"
	"github.com/davidzhangbj/smart-notes/internal/tokenizer"
)

// NoteSource supplies note content for result enrichment, rebuilds, and
// degraded-note repair. The note store implements it.
type NoteSource interface {
	GetNote(ctx context.Context, id string) (*note.Note, error)
	ListNotes(ctx context.Context) ([]*note.Note, error)
}

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// noteMeta is the engine's per-note bookkeeping: the tags used for
// filtering, the version guard, and whether the note's vector is missing.
type noteMeta struct {
	tags      []string
	updatedAt time.Time
	degraded  bool
}

// Engine is the hybrid search engine. It owns both indexes and keeps them in
// sync with the note store through OnNoteWritten and OnNoteDeleted.
//
// Locking: queries and per-note writers hold mu read-side, so they proceed
// concurrently and the indexes serialize internally. Rebuild and Close take
// mu write-side for the swap. The per-note lock arena keeps the keyword and
// vector updates of one note atomic against other writers of that note.
type Engine struct {
	config   EngineConfig
	fusion   *RRFFusion
	tok      *tokenizer.Tokenizer
	embedder embed.Embedder
	source   NoteSource
	metrics  *telemetry.QueryMetrics
	logger   *slog.Logger

	newKeyword func() (index.KeywordIndex, error)
	newVector  func() (index.VectorIndex, error)

	mu      sync.RWMutex
	keyword index.KeywordIndex
	vector  index.VectorIndex

	locks noteLocks

	stateMu     sync.RWMutex
	meta        map[string]noteMeta
	lastRebuild time.Time
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithNoteSource attaches the note store for enrichment, rebuilds, and
// degraded-note repair.
func WithNoteSource(s NoteSource) EngineOption {
	return func(e *Engine) {
		e.source = s
	}
}

// WithMetrics attaches a query telemetry collector.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIndexFactories supplies constructors for fresh indexes so Rebuild can
// build a shadow pair off to the side and swap it in atomically. Without
// factories Rebuild falls back to an in-place rebuild under the write lock.
func WithIndexFactories(
	newKeyword func() (index.KeywordIndex, error),
	newVector func() (index.VectorIndex, error),
) EngineOption {
	return func(e *Engine) {
		e.newKeyword = newKeyword
		e.newVector = newVector
	}
}

// NewEngine creates a hybrid search engine. All four positional dependencies
// are required.
func NewEngine(
	keyword index.KeywordIndex,
	vector index.VectorIndex,
	embedder embed.Embedder,
	tok *tokenizer.Tokenizer,
	config EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	if keyword == nil {
		return nil, noterr.Wrapf(noterr.ErrCodeConfig, ErrNilDependency, "keyword index is required")
	}
	if vector == nil {
		return nil, noterr.Wrapf(noterr.ErrCodeConfig, ErrNilDependency, "vector index is required")
	}
	if embedder == nil {
		return nil, noterr.Wrapf(noterr.ErrCodeConfig, ErrNilDependency, "embedder is required")
	}
	if tok == nil {
		return nil, noterr.Wrapf(noterr.ErrCodeConfig, ErrNilDependency, "tokenizer is required")
	}
	if embedder.Dimensions() != vector.Dimensions() {
		return nil, noterr.Newf(noterr.ErrCodeDimensionMismatch,
			"embedder produces %d dimensions, vector index configured for %d",
			embedder.Dimensions(), vector.Dimensions())
	}

	config = config.applyDefaults()
	e := &Engine{
		config:   config,
		fusion:   NewRRFFusion(config.RRFConstant),
		tok:      tok,
		embedder: embedder,
		keyword:  keyword,
		vector:   vector,
		logger:   slog.Default(),
		meta:     make(map[string]noteMeta),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search runs a hybrid query: keyword and vector retrieval in parallel, RRF
// fusion, tag filtering, then enrichment from the note store.
//
// Vector retrieval failures (embedder down, query embedding timeout) degrade
// the search to keyword-only rather than failing it; Response.Degraded
// reports that. An empty or whitespace-only query is invalid.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, noterr.Newf(noterr.ErrCodeInvalidQuery, "query must not be empty")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	if limit > e.config.MaxLimit {
		limit = e.config.MaxLimit
	}

	terms := e.tok.Tokenize(query)

	e.mu.RLock()
	defer e.mu.RUnlock()

	// Both lists are fetched deeper than the final limit so fusion can
	// promote notes that rank mid-list in both sources.
	candidateLimit := limit * candidateLimitMultiple
	if candidateLimit < minCandidateLimit {
		candidateLimit = minCandidateLimit
	}

	keywordCands, vectorCands, degraded, err := e.retrieve(ctx, query, terms, candidateLimit, opts.KeywordOnly)
	if err != nil {
		return nil, err
	}

	fused := e.fusion.Fuse(keywordCands, vectorCands)
	results, err := e.assembleResults(ctx, fused, opts.Tags, limit)
	if err != nil {
		return nil, err
	}

	e.recordMetrics(query, degraded || opts.KeywordOnly, len(results), time.Since(start))

	return &Response{Results: results, Degraded: degraded}, nil
}

// retrieve runs the two searches concurrently. The vector side degrades to
// nothing on embedding or index trouble; the keyword side only fails the
// query when the vector side produced nothing either.
func (e *Engine) retrieve(
	ctx context.Context,
	query string,
	terms []string,
	limit int,
	keywordOnly bool,
) (keywordCands, vectorCands []index.Candidate, degraded bool, err error) {
	var kwErr, vecErr error

	if keywordOnly {
		keywordCands, kwErr = e.keyword.Query(terms, limit)
		if kwErr != nil {
			return nil, nil, false, noterr.Wrapf(noterr.ErrCodeInternal, kwErr, "keyword search failed: %v", kwErr)
		}
		return keywordCands, nil, false, nil
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		keywordCands, kwErr = e.keyword.Query(terms, limit)
		return nil
	})

	g.Go(func() error {
		embedCtx, cancel := context.WithTimeout(gctx, e.config.EmbedQueryTimeout)
		defer cancel()

		vec, embedErr := e.embedder.Embed(embedCtx, query)
		if embedErr != nil {
			vecErr = embedErr
			return nil
		}

		vectorCands, vecErr = e.vector.Query(vec, limit)
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, false, waitErr
	}

	if vecErr != nil {
		e.logger.Warn("vector retrieval degraded, serving keyword-only results",
			slog.String("error", vecErr.Error()))
		degraded = true
		vectorCands = nil
	}
	if kwErr != nil {
		if vecErr != nil {
			return nil, nil, false, noterr.Wrapf(noterr.ErrCodeInternal,
				errors.Join(kwErr, vecErr), "both retrieval paths failed")
		}
		e.logger.Warn("keyword retrieval failed, serving vector-only results",
			slog.String("error", kwErr.Error()))
		keywordCands = nil
	}

	return keywordCands, vectorCands, degraded, nil
}

// assembleResults applies the tag filter, truncates to limit, and enriches
// hits from the note store. Index entries whose note has vanished from the
// store are skipped.
func (e *Engine) assembleResults(ctx context.Context, fused []FusedResult, tags []string, limit int) ([]Result, error) {
	results := make([]Result, 0, limit)

	for _, f := range fused {
		if len(results) >= limit {
			break
		}
		if !e.matchesTags(f.NoteID, tags) {
			continue
		}

		r := Result{
			NoteID:       f.NoteID,
			FusedScore:   f.FusedScore,
			KeywordScore: f.KeywordScore,
			KeywordRank:  f.KeywordRank,
			VectorScore:  f.VectorScore,
			VectorRank:   f.VectorRank,
		}

		if e.source != nil {
			n, err := e.source.GetNote(ctx, f.NoteID)
			if err != nil {
				if errors.Is(err, noterr.ErrNoteNotFound) {
					e.logger.Debug("skipping index entry without a stored note",
						slog.String("note_id", f.NoteID))
					continue
				}
				return nil, err
			}
			r.Note = n
		}

		results = append(results, r)
	}

	return results, nil
}

// matchesTags reports whether the note carries every requested tag.
func (e *Engine) matchesTags(noteID string, tags []string) bool {
	if len(tags) == 0 {
		return true
	}

	e.stateMu.RLock()
	meta, ok := e.meta[noteID]
	e.stateMu.RUnlock()
	if !ok {
		return false
	}

	for _, want := range tags {
		found := false
		for _, have := range meta.tags {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// OnNoteWritten indexes a created or updated note in both indexes. Called by
// the store layer after the note is committed.
//
// If embedding fails the note stays fully keyword-searchable, its stale
// vector (if any) is dropped, and it is marked degraded for RetryDegraded to
// repair later. Events older than the currently indexed version are ignored.
func (e *Engine) OnNoteWritten(ctx context.Context, n *note.Note) error {
	if n == nil || n.ID == "" {
		return noterr.Newf(noterr.ErrCodeValidation, "cannot index a note without an id")
	}

	e.locks.Lock(n.ID)
	defer e.locks.Unlock(n.ID)

	e.mu.RLock()
	defer e.mu.RUnlock()

	e.stateMu.RLock()
	prev, seen := e.meta[n.ID]
	e.stateMu.RUnlock()
	if seen && prev.updatedAt.After(n.UpdatedAt) {
		e.logger.Debug("ignoring stale note write event",
			slog.String("note_id", n.ID),
			slog.Time("event_version", n.UpdatedAt),
			slog.Time("indexed_version", prev.updatedAt))
		return nil
	}

	// Prepare the full update before touching either index. Embedding can
	// take seconds against a remote provider; concurrent readers must see the
	// previous state until both swaps below, not a keyword-indexed note with
	// no vector.
	terms := e.fieldTerms(n)
	degraded := false
	vec, err := e.embedder.Embed(ctx, n.SearchText())
	if err != nil {
		e.logger.Warn("embedding failed, note indexed for keyword search only",
			slog.String("note_id", n.ID),
			slog.String("error", err.Error()))
		degraded = true
	}

	if err := e.keyword.Upsert(n.ID, terms); err != nil {
		return noterr.Wrapf(noterr.ErrCodeInternal, err, "keyword upsert for note %s: %v", n.ID, err)
	}
	if degraded {
		if rmErr := e.vector.Remove(n.ID); rmErr != nil {
			return noterr.Wrapf(noterr.ErrCodeInternal, rmErr, "drop stale vector for note %s: %v", n.ID, rmErr)
		}
	} else {
		if err := e.vector.Upsert(n.ID, vec); err != nil {
			return err
		}
	}

	e.stateMu.Lock()
	e.meta[n.ID] = noteMeta{
		tags:      append([]string(nil), n.Tags...),
		updatedAt: n.UpdatedAt,
		degraded:  degraded,
	}
	e.stateMu.Unlock()

	return nil
}

// OnNoteDeleted removes a note from both indexes. Unknown ids are a no-op.
func (e *Engine) OnNoteDeleted(ctx context.Context, noteID string) error {
	if noteID == "" {
		return nil
	}

	e.locks.Lock(noteID)
	defer e.locks.Unlock(noteID)

	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.keyword.Remove(noteID); err != nil {
		return noterr.Wrapf(noterr.ErrCodeInternal, err, "keyword remove for note %s: %v", noteID, err)
	}
	if err := e.vector.Remove(noteID); err != nil {
		return noterr.Wrapf(noterr.ErrCodeInternal, err, "vector remove for note %s: %v", noteID, err)
	}

	e.stateMu.Lock()
	delete(e.meta, noteID)
	e.stateMu.Unlock()

	return nil
}

// RetryDegraded re-embeds notes whose vector is missing. Returns how many
// notes were repaired. Notes that still fail to embed stay degraded.
func (e *Engine) RetryDegraded(ctx context.Context) (int, error) {
	if e.source == nil {
		return 0, noterr.Newf(noterr.ErrCodeConfig, "degraded-note repair needs a note source")
	}

	e.stateMu.RLock()
	var ids []string
	for id, m := range e.meta {
		if m.degraded {
			ids = append(ids, id)
		}
	}
	e.stateMu.RUnlock()

	repaired := 0
	for _, id := range ids {
		n, err := e.source.GetNote(ctx, id)
		if err != nil {
			if errors.Is(err, noterr.ErrNoteNotFound) {
				// Deleted since; drop the bookkeeping.
				_ = e.OnNoteDeleted(ctx, id)
				continue
			}
			return repaired, err
		}

		if err := e.OnNoteWritten(ctx, n); err != nil {
			return repaired, err
		}

		e.stateMu.RLock()
		stillDegraded := e.meta[id].degraded
		e.stateMu.RUnlock()
		if !stillDegraded {
			repaired++
		}
	}

	if repaired > 0 {
		e.logger.Info("repaired degraded notes", slog.Int("count", repaired))
	}
	return repaired, nil
}

// Rebuild reindexes every note from the store snapshot. With index factories
// the new indexes are built off to the side and swapped in under the write
// lock, so queries keep running against the old pair during the build. The
// swap also compacts away lazily deleted vector graph nodes.
func (e *Engine) Rebuild(ctx context.Context) error {
	if e.source == nil {
		return noterr.Newf(noterr.ErrCodeConfig, "rebuild needs a note source")
	}

	notes, err := e.source.ListNotes(ctx)
	if err != nil {
		return err
	}

	if e.newKeyword == nil || e.newVector == nil {
		return e.rebuildInPlace(ctx, notes)
	}

	keyword, err := e.newKeyword()
	if err != nil {
		return err
	}
	vector, err := e.newVector()
	if err != nil {
		_ = keyword.Close()
		return err
	}

	meta, err := e.populate(ctx, keyword, vector, notes)
	if err != nil {
		_ = keyword.Close()
		_ = vector.Close()
		return err
	}

	e.mu.Lock()
	oldKeyword, oldVector := e.keyword, e.vector
	e.keyword, e.vector = keyword, vector
	e.mu.Unlock()

	e.stateMu.Lock()
	e.meta = meta
	e.lastRebuild = time.Now()
	e.stateMu.Unlock()

	_ = oldKeyword.Close()
	_ = oldVector.Close()

	e.logger.Info("index rebuild complete", slog.Int("notes", len(notes)))
	return nil
}

// rebuildInPlace rebuilds into the existing indexes under the write lock.
func (e *Engine) rebuildInPlace(ctx context.Context, notes []*note.Note) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stateMu.Lock()
	known := make([]string, 0, len(e.meta))
	for id := range e.meta {
		known = append(known, id)
	}
	e.stateMu.Unlock()

	for _, id := range known {
		if err := e.keyword.Remove(id); err != nil {
			return err
		}
		if err := e.vector.Remove(id); err != nil {
			return err
		}
	}

	meta, err := e.populate(ctx, e.keyword, e.vector, notes)
	if err != nil {
		return err
	}

	e.stateMu.Lock()
	e.meta = meta
	e.lastRebuild = time.Now()
	e.stateMu.Unlock()

	e.logger.Info("in-place index rebuild complete", slog.Int("notes", len(notes)))
	return nil
}

// populate indexes all notes into the given pair. Embedding failures degrade
// individual notes instead of aborting the whole rebuild.
func (e *Engine) populate(
	ctx context.Context,
	keyword index.KeywordIndex,
	vector index.VectorIndex,
	notes []*note.Note,
) (map[string]noteMeta, error) {
	meta := make(map[string]noteMeta, len(notes))

	for _, n := range notes {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := keyword.Upsert(n.ID, e.fieldTerms(n)); err != nil {
			return nil, noterr.Wrapf(noterr.ErrCodeInternal, err, "keyword upsert for note %s: %v", n.ID, err)
		}

		degraded := false
		vec, err := e.embedder.Embed(ctx, n.SearchText())
		if err != nil {
			e.logger.Warn("embedding failed during rebuild, note degraded",
				slog.String("note_id", n.ID),
				slog.String("error", err.Error()))
			degraded = true
		} else if err := vector.Upsert(n.ID, vec); err != nil {
			return nil, err
		}

		meta[n.ID] = noteMeta{
			tags:      append([]string(nil), n.Tags...),
			updatedAt: n.UpdatedAt,
			degraded:  degraded,
		}
	}

	return meta, nil
}

// fieldTerms tokenizes a note into per-field terms for the keyword index.
func (e *Engine) fieldTerms(n *note.Note) index.FieldTerms {
	terms := index.FieldTerms{
		Title: e.tok.Tokenize(n.Title),
		Body:  e.tok.Tokenize(n.Body),
	}
	for _, tag := range n.Tags {
		terms.Tags = append(terms.Tags, e.tok.Tokenize(tag)...)
	}
	return terms
}

// CheckConsistency verifies the indexes agree with the engine's bookkeeping.
// A disagreement means an index missed a write and the store should be
// replayed with Rebuild.
func (e *Engine) CheckConsistency() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	e.stateMu.RLock()
	tracked := len(e.meta)
	degraded := 0
	for _, m := range e.meta {
		if m.degraded {
			degraded++
		}
	}
	e.stateMu.RUnlock()

	if kc := e.keyword.Count(); kc != tracked {
		return noterr.Newf(noterr.ErrCodeIndexCorruption,
			"keyword index holds %d notes, engine tracks %d; run a rebuild", kc, tracked)
	}
	if vc := e.vector.Count(); vc != tracked-degraded {
		return noterr.Newf(noterr.ErrCodeIndexCorruption,
			"vector index holds %d notes, engine tracks %d live; run a rebuild", vc, tracked-degraded)
	}
	return nil
}

// Stats returns the engine's index state.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	e.stateMu.RLock()
	degraded := 0
	for _, m := range e.meta {
		if m.degraded {
			degraded++
		}
	}
	lastRebuild := e.lastRebuild
	e.stateMu.RUnlock()

	s := Stats{
		KeywordCount:  e.keyword.Count(),
		VectorCount:   e.vector.Count(),
		DegradedNotes: degraded,
		LastRebuild:   lastRebuild,
	}
	if o, ok := e.vector.(interface{ Orphans() int }); ok {
		s.VectorOrphans = o.Orphans()
	}
	return s
}

// recordMetrics reports one query to the telemetry collector, if attached.
func (e *Engine) recordMetrics(query string, keywordOnly bool, resultCount int, latency time.Duration) {
	if e.metrics == nil {
		return
	}
	mode := telemetry.ModeHybrid
	if keywordOnly {
		mode = telemetry.ModeKeywordOnly
	}
	e.metrics.Record(telemetry.SearchEvent{
		Query:       query,
		Mode:        mode,
		ResultCount: resultCount,
		Latency:     latency,
		Timestamp:   time.Now(),
	})
}

// Close releases the indexes and the embedder.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.keyword.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.vector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
