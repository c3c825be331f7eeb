package index

import (
	"sync"

	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
)

// ExactVectorIndex is a brute-force VectorIndex. It scans every stored vector
// per query, which is exact and therefore the recall baseline the HNSW index
// is measured against. Fine for small corpora and tests; not for serving at
// scale.
type ExactVectorIndex struct {
	mu      sync.RWMutex
	dims    int
	vectors map[string][]float32
	closed  bool
}

var _ VectorIndex = (*ExactVectorIndex)(nil)

// NewExactVectorIndex creates an empty brute-force index.
func NewExactVectorIndex(dimensions int) (*ExactVectorIndex, error) {
	if dimensions <= 0 {
		return nil, noterr.Newf(noterr.ErrCodeConfig, "vector index needs a positive dimension, got %d", dimensions)
	}
	return &ExactVectorIndex{
		dims:    dimensions,
		vectors: make(map[string][]float32),
	}, nil
}

// Upsert replaces any stored vector for noteID.
func (e *ExactVectorIndex) Upsert(noteID string, vector []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errClosed("vector index")
	}
	if len(vector) != e.dims {
		return noterr.Newf(noterr.ErrCodeDimensionMismatch,
			"vector for note %s has %d dimensions, index configured for %d",
			noteID, len(vector), e.dims)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)
	e.vectors[noteID] = vec
	return nil
}

// Remove deletes the vector for noteID. No-op if absent.
func (e *ExactVectorIndex) Remove(noteID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errClosed("vector index")
	}
	delete(e.vectors, noteID)
	return nil
}

// Query scans all vectors and returns the top limit by cosine similarity.
func (e *ExactVectorIndex) Query(vector []float32, limit int) ([]Candidate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, errClosed("vector index")
	}
	if len(vector) != e.dims {
		return nil, noterr.Newf(noterr.ErrCodeDimensionMismatch,
			"query vector has %d dimensions, index configured for %d",
			len(vector), e.dims)
	}
	if limit <= 0 {
		return []Candidate{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	cands := make([]Candidate, 0, len(e.vectors))
	for noteID, vec := range e.vectors {
		var dot float64
		for i := range vec {
			dot += float64(query[i]) * float64(vec[i])
		}
		// Unit vectors: cosine similarity is the dot product. Map from
		// [-1,1] onto the same 0..1 scale the HNSW index reports.
		cands = append(cands, Candidate{NoteID: noteID, Score: (dot + 1) / 2})
	}
	return rankCandidates(cands, limit), nil
}

// Contains reports whether a vector exists for noteID.
func (e *ExactVectorIndex) Contains(noteID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.vectors[noteID]
	return ok
}

// Count returns the number of stored vectors.
func (e *ExactVectorIndex) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.vectors)
}

// Dimensions returns the configured vector dimension.
func (e *ExactVectorIndex) Dimensions() int {
	return e.dims
}

// Close releases resources.
func (e *ExactVectorIndex) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.vectors = nil
	return nil
}
