package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidzhangbj/smart-notes/internal/ui"
)

// newNoteCmd groups note CRUD subcommands for working without the server.
// These open the store directly; the search indexes are rebuilt from the
// store on the next serve or search run, so no index sync happens here.
func newNoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Create, show, list, and delete notes",
	}
	cmd.AddCommand(newNoteAddCmd())
	cmd.AddCommand(newNoteListCmd())
	cmd.AddCommand(newNoteShowCmd())
	cmd.AddCommand(newNoteRmCmd())
	return cmd
}

func newNoteAddCmd() *cobra.Command {
	var title string
	var tags []string

	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Create a note",
		Long: `Create a note. The content is taken from the arguments; use --title
and repeatable --tag flags for the rest.

Example:
  smartnotes note add "Remember to rotate the API keys" --title Ops --tag infra`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			n, err := st.CreateNote(cmd.Context(), title, strings.Join(args, " "), tags)
			if err != nil {
				return err
			}
			ui.NewRenderer(cmd.OutOrStdout(), noColor).Successf("created %s", n.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Note title")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Tag (repeatable)")

	return cmd
}

func newNoteListCmd() *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes, most recently updated first",
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

			notes, err := st.ListNotes(cmd.Context())
			if tag != "" {
				notes, err = st.ListNotesByTag(cmd.Context(), tag)
			}
			if err != nil {
				return err
			}

			ui.NewRenderer(cmd.OutOrStdout(), noColor).NoteList(notes)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Only list notes carrying this tag")

	return cmd
}

func newNoteShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a note in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			n, err := st.GetNote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ui.NewRenderer(cmd.OutOrStdout(), noColor).Note(n)
			return nil
		},
	}
}

func newNoteRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.DeleteNote(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
