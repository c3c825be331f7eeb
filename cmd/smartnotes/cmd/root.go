// Package cmd provides the CLI commands for smartnotes.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/davidzhangbj/smart-notes/internal/config"
	"github.com/davidzhangbj/smart-notes/internal/logging"
	"github.com/davidzhangbj/smart-notes/pkg/version"
)

// Global flags.
var (
	configPath string
	dataDir    string
	noColor    bool
	debugMode  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the smartnotes CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smartnotes",
		Short: "Note-taking with hybrid keyword and semantic search",
		Long: `Smart-notes stores notes in SQLite and searches them with hybrid
retrieval: BM25 keyword matching and embedding similarity, combined
with reciprocal rank fusion.

Run 'smartnotes serve' to start the HTTP API, or 'smartnotes search'
for one-shot queries against the data directory.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("smartnotes version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: <data-dir>/smartnotes.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: ~/.smartnotes)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newNoteCmd())
	cmd.AddCommand(newTagsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig resolves configuration with the global flag overrides applied.
// With --data-dir but no --config, a smartnotes.yaml inside that directory
// is picked up.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" && dataDir != "" {
		candidate := filepath.Join(dataDir, "smartnotes.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging installs the default slog logger. One-shot commands log to
// stderr only; the log file is reserved for the server so CLI runs don't
// rotate it.
func setupLogging(cmd *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg.Level = "debug"
	} else {
		// Keep one-shot CLI output clean.
		logCfg.Level = "warn"
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.Debug("logging initialized", slog.String("command", cmd.Name()))
	return nil
}
