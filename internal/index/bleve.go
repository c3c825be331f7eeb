package index

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
)

// termsAnalyzerName is the analyzer applied to note fields. Terms arrive
// already normalized by the tokenizer package, so bleve only needs to split
// on whitespace without re-analyzing.
const termsAnalyzerName = "pretokenized_terms"

// BleveKeywordIndex implements KeywordIndex on top of bleve. Notes are stored
// as three pre-tokenized fields; queries are term disjunctions over them, so
// the tokenizer package stays the single normalization authority for both
// backends.
type BleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

var _ KeywordIndex = (*BleveKeywordIndex)(nil)

// bleveFields are the searchable fields, in match priority order.
var bleveFields = []string{"title", "body", "tags"}

// NewBleveKeywordIndex creates an in-memory bleve keyword index.
func NewBleveKeywordIndex() (*BleveKeywordIndex, error) {
	im := bleve.NewIndexMapping()
	if err := im.AddCustomAnalyzer(termsAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
	}); err != nil {
		return nil, fmt.Errorf("register analyzer: %w", err)
	}

	dm := bleve.NewDocumentMapping()
	for _, field := range bleveFields {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = termsAnalyzerName
		fm.Store = false
		fm.IncludeInAll = false
		dm.AddFieldMappingsAt(field, fm)
	}
	im.DefaultMapping = dm
	im.DefaultAnalyzer = termsAnalyzerName

	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &BleveKeywordIndex{index: idx}, nil
}

// Upsert replaces the note's document. A note whose terms are all empty is
// removed so it can never match.
func (b *BleveKeywordIndex) Upsert(noteID string, terms FieldTerms) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errClosed("keyword index")
	}
	if terms.Empty() {
		return b.index.Delete(noteID)
	}

	doc := map[string]string{
		"title": strings.Join(terms.Title, " "),
		"body":  strings.Join(terms.Body, " "),
		"tags":  strings.Join(terms.Tags, " "),
	}
	if err := b.index.Index(noteID, doc); err != nil {
		return fmt.Errorf("index note %s: %w", noteID, err)
	}
	return nil
}

// Remove deletes the note's document. No-op if absent.
func (b *BleveKeywordIndex) Remove(noteID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errClosed("keyword index")
	}
	return b.index.Delete(noteID)
}

// Query runs a term disjunction over all fields.
func (b *BleveKeywordIndex) Query(queryTerms []string, limit int) ([]Candidate, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errClosed("keyword index")
	}
	if len(queryTerms) == 0 || limit <= 0 {
		return []Candidate{}, nil
	}

	dq := bleve.NewDisjunctionQuery()
	for _, term := range queryTerms {
		for _, field := range bleveFields {
			tq := bleve.NewTermQuery(term)
			tq.SetField(field)
			dq.AddQuery(tq)
		}
	}

	req := bleve.NewSearchRequestOptions(dq, limit, 0, false)
	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	cands := make([]Candidate, 0, len(res.Hits))
	for _, hit := range res.Hits {
		cands = append(cands, Candidate{NoteID: hit.ID, Score: hit.Score})
	}
	return rankCandidates(cands, limit), nil
}

// Count returns the number of indexed notes.
func (b *BleveKeywordIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close releases the underlying bleve index.
func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// NewKeywordIndex builds a keyword index for the configured backend
// ("memory" or "bleve").
func NewKeywordIndex(backend string, cfg KeywordConfig) (KeywordIndex, error) {
	switch backend {
	case "", "memory":
		return NewMemoryKeywordIndex(cfg), nil
	case "bleve":
		return NewBleveKeywordIndex()
	default:
		return nil, fmt.Errorf("unknown keyword backend %q", backend)
	}
}
