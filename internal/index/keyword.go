package index

import (
	"math"
	"sync"
)

// BM25 parameters. Defaults follow the common BM25 literature values.
const (
	DefaultBM25K1 = 1.2
	DefaultBM25B  = 0.75
)

// KeywordConfig configures the in-memory keyword index.
type KeywordConfig struct {
	// K1 is the term frequency saturation parameter (default: 1.2).
	K1 float64
	// B is the document length normalization parameter (default: 0.75).
	B float64
}

// posting is one inverted index entry: a note that contains a term.
type posting struct {
	tf    int
	field Field
}

// MemoryKeywordIndex is a postings-based BM25 index held in memory.
//
// Invariants: at most one posting per (term, note) pair, tf >= 1. Upserts
// replace a note's postings wholesale, so indexing the same text twice leaves
// the structure identical to a single call.
type MemoryKeywordIndex struct {
	mu       sync.RWMutex
	k1       float64
	b        float64
	postings map[string]map[string]posting // term -> note id -> posting
	docTerms map[string][]string           // note id -> distinct terms, for removal
	docLen   map[string]int                // note id -> total term count
	totalLen int
	closed   bool
}

var _ KeywordIndex = (*MemoryKeywordIndex)(nil)

// NewMemoryKeywordIndex creates an empty keyword index.
func NewMemoryKeywordIndex(cfg KeywordConfig) *MemoryKeywordIndex {
	if cfg.K1 <= 0 {
		cfg.K1 = DefaultBM25K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = DefaultBM25B
	}
	return &MemoryKeywordIndex{
		k1:       cfg.K1,
		b:        cfg.B,
		postings: make(map[string]map[string]posting),
		docTerms: make(map[string][]string),
		docLen:   make(map[string]int),
	}
}

// Upsert replaces all postings for noteID with fresh ones derived from terms.
func (idx *MemoryKeywordIndex) Upsert(noteID string, terms FieldTerms) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errClosed("keyword index")
	}

	idx.removeLocked(noteID)

	// Count per-term frequency across fields, recording the highest-priority
	// field a term occurred in. Field priority: title > body > tag.
	freq := make(map[string]posting)
	accumulate := func(ts []string, f Field) {
		for _, t := range ts {
			p := freq[t]
			p.tf++
			if p.field == "" || fieldPriority(f) < fieldPriority(p.field) {
				p.field = f
			}
			freq[t] = p
		}
	}
	accumulate(terms.Title, FieldTitle)
	accumulate(terms.Body, FieldBody)
	accumulate(terms.Tags, FieldTag)

	if len(freq) == 0 {
		return nil
	}

	distinct := make([]string, 0, len(freq))
	total := 0
	for term, p := range freq {
		m := idx.postings[term]
		if m == nil {
			m = make(map[string]posting)
			idx.postings[term] = m
		}
		m[noteID] = p
		distinct = append(distinct, term)
		total += p.tf
	}

	idx.docTerms[noteID] = distinct
	idx.docLen[noteID] = total
	idx.totalLen += total
	return nil
}

// Remove deletes all postings referencing noteID. No-op if absent.
func (idx *MemoryKeywordIndex) Remove(noteID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return errClosed("keyword index")
	}

	idx.removeLocked(noteID)
	return nil
}

func (idx *MemoryKeywordIndex) removeLocked(noteID string) {
	terms, ok := idx.docTerms[noteID]
	if !ok {
		return
	}
	for _, term := range terms {
		m := idx.postings[term]
		delete(m, noteID)
		if len(m) == 0 {
			delete(idx.postings, term)
		}
	}
	idx.totalLen -= idx.docLen[noteID]
	delete(idx.docTerms, noteID)
	delete(idx.docLen, noteID)
}

// Query scores notes sharing at least one query term with BM25 and returns at
// most limit candidates, ranked by score descending, note id ascending on
// ties. Empty query terms yield an empty list, and unknown terms contribute
// nothing.
func (idx *MemoryKeywordIndex) Query(queryTerms []string, limit int) ([]Candidate, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, errClosed("keyword index")
	}
	if len(queryTerms) == 0 || len(idx.docLen) == 0 {
		return []Candidate{}, nil
	}

	n := float64(len(idx.docLen))
	avgLen := float64(idx.totalLen) / n

	// Deduplicate query terms so repeated words don't double-count idf.
	seen := make(map[string]struct{}, len(queryTerms))
	scores := make(map[string]float64)

	for _, term := range queryTerms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		m, ok := idx.postings[term]
		if !ok {
			continue
		}

		df := float64(len(m))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for noteID, p := range m {
			tf := float64(p.tf)
			dl := float64(idx.docLen[noteID])
			norm := idx.k1 * (1 - idx.b + idx.b*dl/avgLen)
			scores[noteID] += idf * tf * (idx.k1 + 1) / (tf + norm)
		}
	}

	cands := make([]Candidate, 0, len(scores))
	for noteID, score := range scores {
		cands = append(cands, Candidate{NoteID: noteID, Score: score})
	}
	return rankCandidates(cands, limit), nil
}

// Count returns the number of indexed notes.
func (idx *MemoryKeywordIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docLen)
}

// Terms returns the vocabulary size. Used by stats and consistency checks.
func (idx *MemoryKeywordIndex) Terms() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.postings)
}

// Contains reports whether the note has any postings.
func (idx *MemoryKeywordIndex) Contains(noteID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.docTerms[noteID]
	return ok
}

// Close releases resources.
func (idx *MemoryKeywordIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	idx.postings = nil
	idx.docTerms = nil
	idx.docLen = nil
	return nil
}

func fieldPriority(f Field) int {
	switch f {
	case FieldTitle:
		return 0
	case FieldBody:
		return 1
	default:
		return 2
	}
}
