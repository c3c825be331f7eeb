// Package tokenizer turns note and query text into normalized terms for the
// keyword index.
//
// Guarantees: deterministic output, Unicode-equivalent inputs tokenize
// identically (NFC normalization), case-folded terms, Markdown syntax
// characters never become terms. Tokenize never fails; the worst case is an
// empty term list.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Config configures the tokenizer.
type Config struct {
	// StopWords are removed from the output. Empty by default so keyword
	// search never silently drops terms the user typed.
	StopWords []string
}

// Tokenizer splits text into normalized terms.
type Tokenizer struct {
	stopWords map[string]struct{}
	folder    cases.Caser
}

// New creates a tokenizer. Stop words are case-folded before use.
func New(cfg Config) *Tokenizer {
	t := &Tokenizer{
		stopWords: make(map[string]struct{}, len(cfg.StopWords)),
		folder:    cases.Fold(),
	}
	for _, w := range cfg.StopWords {
		t.stopWords[t.folder.String(w)] = struct{}{}
	}
	return t
}

// Tokenize splits text into normalized terms.
//
// Composed and decomposed Unicode renderings are first collapsed to NFC so
// that visually identical words always produce identical terms. Everything
// that is not a letter or digit acts as a separator, which also strips
// Markdown syntax (#, *, backticks, brackets) without treating code block
// contents specially: users search notes by code identifiers.
func (t *Tokenizer) Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	normalized := norm.NFC.String(text)
	folded := t.folder.String(normalized)

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := t.stopWords[f]; stop {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}
