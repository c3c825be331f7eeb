package search

import (
	"time"

	"github.com/davidzhangbj/smart-notes/internal/note"
)

// EngineConfig tunes the hybrid search engine.
type EngineConfig struct {
	// RRFConstant is the fusion smoothing constant k (default: 60).
	RRFConstant int

	// DefaultLimit is used when a query requests no limit (default: 10).
	DefaultLimit int

	// MaxLimit caps the per-query result count (default: 100).
	MaxLimit int

	// EmbedQueryTimeout bounds the query embedding call. When it expires
	// the search degrades to keyword-only instead of failing (default: 2s).
	EmbedQueryTimeout time.Duration
}

// engine defaults.
const (
	DefaultLimit           = 10
	DefaultMaxLimit        = 100
	DefaultEmbedTimeout    = 2 * time.Second
	minCandidateLimit      = 50
	candidateLimitMultiple = 4
)

// applyDefaults fills zero fields in an EngineConfig.
func (c EngineConfig) applyDefaults() EngineConfig {
	if c.RRFConstant <= 0 {
		c.RRFConstant = DefaultRRFConstant
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = DefaultMaxLimit
	}
	if c.EmbedQueryTimeout <= 0 {
		c.EmbedQueryTimeout = DefaultEmbedTimeout
	}
	return c
}

// Options controls a single search.
type Options struct {
	// Limit caps the number of results. Zero means the engine default.
	Limit int

	// Tags restricts results to notes carrying every listed tag.
	Tags []string

	// KeywordOnly skips vector retrieval entirely.
	KeywordOnly bool
}

// Result is one search hit. Ranks are 1-based positions in the per-source
// candidate lists; zero means the note was absent from that list.
type Result struct {
	NoteID       string  `json:"note_id"`
	FusedScore   float64 `json:"fused_score"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
	KeywordRank  int     `json:"keyword_rank,omitempty"`
	VectorScore  float64 `json:"vector_score,omitempty"`
	VectorRank   int     `json:"vector_rank,omitempty"`

	// Note is the full note, populated when the engine has a note source.
	Note *note.Note `json:"note,omitempty"`
}

// Response carries the results of one search plus how it was answered.
type Response struct {
	Results []Result `json:"results"`

	// Degraded is true when vector retrieval was unavailable and the
	// search fell back to keyword-only.
	Degraded bool `json:"degraded,omitempty"`
}

// Stats describes the engine's index state.
type Stats struct {
	KeywordCount  int       `json:"keyword_count"`
	VectorCount   int       `json:"vector_count"`
	VectorOrphans int       `json:"vector_orphans"`
	DegradedNotes int       `json:"degraded_notes"`
	LastRebuild   time.Time `json:"last_rebuild,omitempty"`
}
