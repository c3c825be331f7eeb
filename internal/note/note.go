// Package note defines the note domain model shared by the store, the search
// engine, and the HTTP layer.
package note

import (
	"strings"
	"time"

	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
)

// Limits on note payloads.
const (
	MaxTitleLen = 200
	MaxBodyLen  = 100_000
	MaxTags     = 20
	MaxTagLen   = 50
)

// Note is a single note. ID is stable across edits; UpdatedAt is monotonic per
// note and is what the index sync logic compares against.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasTag reports whether the note carries the given tag. Stored tags are
// lowercase; the probe is folded so lookups are case-insensitive.
func (n *Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// SearchText is the text presented to both the tokenizer and the embedder:
// title, body, and tags joined so every field is findable.
func (n *Note) SearchText() string {
	var b strings.Builder
	if n.Title != "" {
		b.WriteString(n.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(n.Body)
	if len(n.Tags) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(n.Tags, " "))
	}
	return b.String()
}

// Validate checks payload limits. Tags are lowercased and deduplicated by
// NormalizeTags; Validate only enforces size constraints.
func Validate(title, body string, tags []string) error {
	if len(title) > MaxTitleLen {
		return noterr.Newf(noterr.ErrCodeValidation, "title exceeds %d characters", MaxTitleLen)
	}
	if len(body) > MaxBodyLen {
		return noterr.Newf(noterr.ErrCodeValidation, "content exceeds %d characters", MaxBodyLen)
	}
	if len(tags) > MaxTags {
		return noterr.Newf(noterr.ErrCodeValidation, "maximum %d tags allowed", MaxTags)
	}
	for _, tag := range tags {
		if tag == "" {
			return noterr.Newf(noterr.ErrCodeValidation, "empty tag not allowed")
		}
		if len(tag) > MaxTagLen {
			return noterr.Newf(noterr.ErrCodeValidation, "tag %q exceeds %d characters", tag, MaxTagLen)
		}
	}
	return nil
}

// NormalizeTags lowercases, trims whitespace, and removes duplicates,
// preserving first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
