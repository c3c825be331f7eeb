package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidzhangbj/smart-notes/internal/search"
	"github.com/davidzhangbj/smart-notes/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit       int
	tags        []string
	keywordOnly bool
	format      string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search notes with hybrid retrieval",
		Long: `Search notes with hybrid retrieval.

Combines BM25 keyword matching and embedding similarity with
reciprocal rank fusion. When the embedding provider is unavailable
the search falls back to keyword-only results.

Examples:
  smartnotes search "docker networking"
  smartnotes search "sourdough" --tag cooking --limit 5
  smartnotes search "meeting notes" --keyword-only --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringSliceVarP(&opts.tags, "tag", "t", nil, "Only return notes carrying this tag (repeatable, all must match)")
	cmd.Flags().BoolVar(&opts.keywordOnly, "keyword-only", false, "Skip semantic retrieval, use BM25 only")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.engine.Search(ctx, query, search.Options{
		Limit:       opts.limit,
		Tags:        opts.tags,
		KeywordOnly: opts.keywordOnly,
	})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	r := ui.NewRenderer(cmd.OutOrStdout(), noColor)
	r.SearchResults(query, resp)
	return nil
}
