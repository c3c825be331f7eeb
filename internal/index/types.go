// Package index provides the two retrieval structures behind hybrid search:
// a keyword index over tokenized note text and an approximate nearest
// neighbor index over note embeddings.
//
// Both indexes are owned exclusively by the search engine and are rebuilt
// from the note store snapshot; the store remains the source of truth.
package index

import (
	"fmt"
	"sort"
)

func errClosed(what string) error {
	return fmt.Errorf("%s is closed", what)
}

// Field identifies where a term occurred within a note. When a term occurs in
// several fields the posting records the highest-priority one
// (title > body > tag); term frequency is summed across fields.
type Field string

const (
	FieldTitle Field = "title"
	FieldBody  Field = "body"
	FieldTag   Field = "tag"
)

// FieldTerms carries the tokenized note text per field for keyword upserts.
type FieldTerms struct {
	Title []string
	Body  []string
	Tags  []string
}

// Empty reports whether no field has any terms.
func (ft FieldTerms) Empty() bool {
	return len(ft.Title) == 0 && len(ft.Body) == 0 && len(ft.Tags) == 0
}

// Candidate is one entry of a ranked candidate list. Rank is the 1-based
// position within the list that produced it; Score is the raw score on that
// list's own scale and is never compared across lists.
type Candidate struct {
	NoteID string
	Score  float64
	Rank   int
}

// KeywordIndex is the inverted index over note terms.
//
// Upsert replaces all postings for a note and is idempotent. Remove is a
// no-op for unknown ids. Query scores candidates with BM25 and excludes
// notes sharing zero query terms.
type KeywordIndex interface {
	Upsert(noteID string, terms FieldTerms) error
	Remove(noteID string) error
	Query(queryTerms []string, limit int) ([]Candidate, error)
	Count() int
	Close() error
}

// VectorIndex is the approximate nearest neighbor index over note embeddings.
//
// Upsert replaces any stored vector and rejects vectors whose length differs
// from the configured dimension. Query returns candidates by descending
// similarity under the index's single configured metric.
type VectorIndex interface {
	Upsert(noteID string, vector []float32) error
	Remove(noteID string) error
	Query(vector []float32, limit int) ([]Candidate, error)
	Contains(noteID string) bool
	Count() int
	Dimensions() int
	Close() error
}

// rankCandidates orders candidates by score descending, note id ascending for
// equal scores, truncates to limit, and assigns 1-based ranks.
func rankCandidates(cands []Candidate, limit int) []Candidate {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].NoteID < cands[j].NoteID
	})
	if limit >= 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	for i := range cands {
		cands[i].Rank = i + 1
	}
	return cands
}
