package cmd

import (
	"github.com/spf13/cobra"

	"github.com/davidzhangbj/smart-notes/internal/ui"
)

func newTagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List tags with usage counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			counts, err := st.TagCounts(cmd.Context())
			if err != nil {
				return err
			}
			ui.NewRenderer(cmd.OutOrStdout(), noColor).TagCounts(counts)
			return nil
		},
	}
}
