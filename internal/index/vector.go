package index

import (
	"math"
	"sync"

	"github.com/coder/hnsw"

	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
)

// VectorConfig configures the HNSW vector index.
type VectorConfig struct {
	// Dimensions is the fixed embedding dimension. Vectors of any other
	// length are rejected, never truncated or padded.
	Dimensions int

	// M is the max connections per HNSW layer (default: 16).
	M int

	// EfSearch is the query-time search width (default: 64). With the
	// default M this holds recall@10 at or above 95% of the exact
	// brute-force result on corpora around a thousand notes; see the
	// recall test in this package.
	EfSearch int
}

// HNSWVectorIndex implements VectorIndex using the pure-Go coder/hnsw graph.
//
// Similarity is cosine; vectors are normalized to unit length on insert and
// at query time. Deletions are lazy: the graph node is orphaned and filtered
// out of results, which avoids graph repair on every delete. Queries widen by
// the orphan count so lazily deleted nodes never shrink the result set.
type HNSWVectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	idMap   map[string]uint64 // note id -> graph key
	keyMap  map[uint64]string // graph key -> note id
	nextKey uint64

	closed bool
}

var _ VectorIndex = (*HNSWVectorIndex)(nil)

// NewHNSWVectorIndex creates a vector index with the fixed dimension in cfg.
func NewHNSWVectorIndex(cfg VectorConfig) (*HNSWVectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, noterr.Newf(noterr.ErrCodeConfig, "vector index needs a positive dimension, got %d", cfg.Dimensions)
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWVectorIndex{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Upsert replaces any stored vector for noteID.
func (v *HNSWVectorIndex) Upsert(noteID string, vector []float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errClosed("vector index")
	}
	if len(vector) != v.config.Dimensions {
		return noterr.Newf(noterr.ErrCodeDimensionMismatch,
			"vector for note %s has %d dimensions, index configured for %d",
			noteID, len(vector), v.config.Dimensions)
	}

	// Lazy replace: orphan the old graph node instead of deleting it.
	// Removing nodes from the graph is the one operation coder/hnsw does
	// not handle robustly near-empty.
	if oldKey, exists := v.idMap[noteID]; exists {
		delete(v.keyMap, oldKey)
		delete(v.idMap, noteID)
	}

	key := v.nextKey
	v.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	v.graph.Add(hnsw.MakeNode(key, vec))
	v.idMap[noteID] = key
	v.keyMap[key] = noteID
	return nil
}

// Remove deletes the vector for noteID. No-op if absent.
func (v *HNSWVectorIndex) Remove(noteID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errClosed("vector index")
	}
	if key, exists := v.idMap[noteID]; exists {
		delete(v.keyMap, key)
		delete(v.idMap, noteID)
	}
	return nil
}

// Query returns up to limit nearest neighbors by cosine similarity,
// descending, ties broken by note id ascending.
func (v *HNSWVectorIndex) Query(vector []float32, limit int) ([]Candidate, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, errClosed("vector index")
	}
	if len(vector) != v.config.Dimensions {
		return nil, noterr.Newf(noterr.ErrCodeDimensionMismatch,
			"query vector has %d dimensions, index configured for %d",
			len(vector), v.config.Dimensions)
	}
	if len(v.idMap) == 0 || limit <= 0 {
		return []Candidate{}, nil
	}

	query := make([]float32, len(vector))
	copy(query, vector)
	normalizeInPlace(query)

	// Widen the search by the orphan count so lazily deleted nodes cannot
	// crowd live ones out of the top-k.
	orphans := v.graph.Len() - len(v.idMap)
	k := limit + orphans
	if k > v.graph.Len() {
		k = v.graph.Len()
	}

	nodes := v.graph.Search(query, k)

	cands := make([]Candidate, 0, limit)
	for _, node := range nodes {
		noteID, live := v.keyMap[node.Key]
		if !live {
			continue
		}
		distance := v.graph.Distance(query, node.Value)
		cands = append(cands, Candidate{
			NoteID: noteID,
			Score:  cosineScore(distance),
		})
	}
	return rankCandidates(cands, limit), nil
}

// Contains reports whether a live vector exists for noteID.
func (v *HNSWVectorIndex) Contains(noteID string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.idMap[noteID]
	return ok
}

// Count returns the number of live vectors.
func (v *HNSWVectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Dimensions returns the configured vector dimension.
func (v *HNSWVectorIndex) Dimensions() int {
	return v.config.Dimensions
}

// Orphans returns the number of lazily deleted graph nodes. Exposed for
// introspection; a rebuild compacts them away.
func (v *HNSWVectorIndex) Orphans() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.graph.Len() - len(v.idMap)
}

// Close releases the graph.
func (v *HNSWVectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	v.graph = nil
	return nil
}

// normalizeInPlace scales a vector to unit length. Zero vectors are left
// untouched.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// cosineScore converts cosine distance (0..2) to a similarity in 0..1.
func cosineScore(distance float32) float64 {
	return float64(1.0 - distance/2.0)
}
