// Package search implements hybrid note search: keyword and vector retrieval
// run in parallel and their ranked candidate lists are merged with Reciprocal
// Rank Fusion (RRF).
package search

import (
	"sort"

	"github.com/davidzhangbj/smart-notes/internal/index"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (used by Azure AI Search, OpenSearch,
// and others).
const DefaultRRFConstant = 60

// FusedResult is a single result after RRF fusion. Per-source scores and
// ranks are preserved for display; only the fused score orders results.
type FusedResult struct {
	NoteID       string
	FusedScore   float64
	KeywordScore float64
	KeywordRank  int // 1-indexed, 0 if absent from the keyword list
	VectorScore  float64
	VectorRank   int // 1-indexed, 0 if absent from the vector list
}

// RRFFusion merges keyword and vector candidate lists.
//
// fused(d) = Σ over lists containing d of 1 / (k + rank_d)
//
// A note absent from one list simply receives no contribution from it; there
// is no missing-rank penalty and no weighting. That keeps fusion transparent:
// when vector retrieval degrades, a note's fused score is exactly its keyword
// term, so keyword-only rankings line up with the keyword side of hybrid ones.
type RRFFusion struct {
	K int // smoothing constant (default: 60)
}

// NewRRFFusion creates an RRF fusion instance. If k <= 0, defaults to 60.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges the two ranked candidate lists. Input ranks are taken as-is;
// both lists are 1-indexed by construction. Results are sorted by fused score
// descending, then note id ascending, which makes fusion fully deterministic.
func (f *RRFFusion) Fuse(keyword, vector []index.Candidate) []FusedResult {
	if len(keyword) == 0 && len(vector) == 0 {
		return []FusedResult{}
	}

	merged := make(map[string]*FusedResult, len(keyword)+len(vector))

	for _, c := range keyword {
		r := f.getOrCreate(merged, c.NoteID)
		r.KeywordScore = c.Score
		r.KeywordRank = c.Rank
		r.FusedScore += 1.0 / float64(f.K+c.Rank)
	}

	for _, c := range vector {
		r := f.getOrCreate(merged, c.NoteID)
		r.VectorScore = c.Score
		r.VectorRank = c.Rank
		r.FusedScore += 1.0 / float64(f.K+c.Rank)
	}

	results := make([]FusedResult, 0, len(merged))
	for _, r := range merged {
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		return results[i].NoteID < results[j].NoteID
	})

	return results
}

// getOrCreate returns the existing entry or creates a new one.
func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{NoteID: id}
	m[id] = r
	return r
}
