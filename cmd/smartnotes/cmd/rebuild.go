package cmd

import (
	"github.com/spf13/cobra"

	"github.com/davidzhangbj/smart-notes/internal/ui"
)

func newRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the search indexes from the note store",
		Long: `Rebuild the search indexes from the note store.

Tokenizes and embeds every stored note, then verifies index counts
against the store. Use this to check that all notes index cleanly,
or after changing the embedding provider. A running server rebuilds
via POST /api/rebuild instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			r := ui.NewRenderer(cmd.OutOrStdout(), noColor)
			if err := a.engine.CheckConsistency(); err != nil {
				r.Errorf("consistency check failed: %v", err)
				return err
			}

			stats := a.engine.Stats()
			r.Successf("indexes rebuilt from %d notes", stats.KeywordCount)
			r.Stats(stats)
			return nil
		},
	}
	return cmd
}
