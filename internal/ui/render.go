// Package ui renders notes, search results, and diagnostics for the CLI.
// Color is applied only when stdout is a terminal; piped output stays plain.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/davidzhangbj/smart-notes/internal/note"
	"github.com/davidzhangbj/smart-notes/internal/search"
	"github.com/davidzhangbj/smart-notes/internal/store"
)

const snippetLines = 2

// Renderer writes human-readable output to a single destination.
type Renderer struct {
	out    io.Writer
	styles Styles
}

// NewRenderer creates a renderer for out. Color is enabled when out is a
// terminal and NO_COLOR is unset; noColor forces plain output.
func NewRenderer(out io.Writer, noColor bool) *Renderer {
	if !noColor {
		noColor = !isTerminal(out) || os.Getenv("NO_COLOR") != ""
	}
	return &Renderer{out: out, styles: GetStyles(noColor)}
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// SearchResults renders a search response with per-result score breakdown.
func (r *Renderer) SearchResults(query string, resp *search.Response) {
	if resp.Degraded {
		r.printf("%s\n\n", r.styles.Warning.Render("⚠ embeddings unavailable, showing keyword matches only"))
	}
	if len(resp.Results) == 0 {
		r.printf("%s\n", r.styles.Dim.Render(fmt.Sprintf("No results for %q", query)))
		return
	}

	r.printf("%s\n\n", r.styles.Header.Render(fmt.Sprintf("%d results for %q", len(resp.Results), query)))
	for i, res := range resp.Results {
		title := res.NoteID
		if res.Note != nil && res.Note.Title != "" {
			title = res.Note.Title
		}
		r.printf("%2d. %s  %s\n", i+1,
			r.styles.Title.Render(title),
			r.styles.Score.Render(fmt.Sprintf("(score: %.4f)", res.FusedScore)))
		r.printf("    %s\n", r.styles.Dim.Render(r.scoreBreakdown(res)))

		if res.Note != nil {
			for _, line := range snippet(res.Note.Body, snippetLines) {
				r.printf("    %s\n", line)
			}
			if len(res.Note.Tags) > 0 {
				r.printf("    %s\n", r.styles.Tag.Render(renderTags(res.Note.Tags)))
			}
		}
		r.printf("\n")
	}
}

func (r *Renderer) scoreBreakdown(res search.Result) string {
	parts := make([]string, 0, 2)
	if res.KeywordRank > 0 {
		parts = append(parts, fmt.Sprintf("keyword #%d (%.3f)", res.KeywordRank, res.KeywordScore))
	}
	if res.VectorRank > 0 {
		parts = append(parts, fmt.Sprintf("semantic #%d (%.3f)", res.VectorRank, res.VectorScore))
	}
	return strings.Join(parts, " | ")
}

// NoteList renders a compact one-note-per-block listing.
func (r *Renderer) NoteList(notes []*note.Note) {
	if len(notes) == 0 {
		r.printf("%s\n", r.styles.Dim.Render("No notes yet"))
		return
	}
	for _, n := range notes {
		title := n.Title
		if title == "" {
			title = "(untitled)"
		}
		r.printf("%s  %s\n", r.styles.Title.Render(title), r.styles.Dim.Render(n.ID))
		r.printf("  %s", r.styles.Score.Render(n.UpdatedAt.Local().Format(time.DateTime)))
		if len(n.Tags) > 0 {
			r.printf("  %s", r.styles.Tag.Render(renderTags(n.Tags)))
		}
		r.printf("\n")
	}
}

// Note renders a single note in full.
func (r *Renderer) Note(n *note.Note) {
	if n.Title != "" {
		r.printf("%s\n", r.styles.Header.Render(n.Title))
	}
	r.printf("%s\n", r.styles.Dim.Render(fmt.Sprintf("%s · updated %s", n.ID, n.UpdatedAt.Local().Format(time.DateTime))))
	if len(n.Tags) > 0 {
		r.printf("%s\n", r.styles.Tag.Render(renderTags(n.Tags)))
	}
	r.printf("\n%s\n", n.Body)
}

// TagCounts renders tag usage, most used first.
func (r *Renderer) TagCounts(counts []store.TagCount) {
	if len(counts) == 0 {
		r.printf("%s\n", r.styles.Dim.Render("No tags yet"))
		return
	}
	for _, tc := range counts {
		r.printf("%s %s\n",
			r.styles.Tag.Render("#"+tc.Tag),
			r.styles.Score.Render(fmt.Sprintf("(%d)", tc.Count)))
	}
}

// Stats renders index statistics.
func (r *Renderer) Stats(st search.Stats) {
	r.printf("%s\n", r.styles.Header.Render("Index"))
	r.printf("  keyword entries: %d\n", st.KeywordCount)
	r.printf("  vector entries:  %d\n", st.VectorCount)
	if st.VectorOrphans > 0 {
		r.printf("  %s\n", r.styles.Warning.Render(fmt.Sprintf("orphaned vectors: %d", st.VectorOrphans)))
	}
	if st.DegradedNotes > 0 {
		r.printf("  %s\n", r.styles.Warning.Render(fmt.Sprintf("notes without embeddings: %d", st.DegradedNotes)))
	}
	if !st.LastRebuild.IsZero() {
		r.printf("  last rebuild:    %s\n", st.LastRebuild.Local().Format(time.DateTime))
	}
}

// Successf prints a success line.
func (r *Renderer) Successf(format string, args ...any) {
	r.printf("%s\n", r.styles.Success.Render(fmt.Sprintf(format, args...)))
}

// Warningf prints a warning line.
func (r *Renderer) Warningf(format string, args ...any) {
	r.printf("%s\n", r.styles.Warning.Render(fmt.Sprintf(format, args...)))
}

// Errorf prints an error line.
func (r *Renderer) Errorf(format string, args ...any) {
	r.printf("%s\n", r.styles.Error.Render(fmt.Sprintf(format, args...)))
}

func (r *Renderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func renderTags(tags []string) string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = "#" + t
	}
	return strings.Join(out, " ")
}

// snippet returns up to n non-empty leading lines of content.
func snippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, n)
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}
