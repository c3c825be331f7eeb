package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidzhangbj/smart-notes/internal/config"
	"github.com/davidzhangbj/smart-notes/internal/logging"
	"github.com/davidzhangbj/smart-notes/internal/search"
	"github.com/davidzhangbj/smart-notes/internal/server"
	"github.com/davidzhangbj/smart-notes/internal/store"
)

func newServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server.

Serves note CRUD, hybrid search, tags, export, and health under /api,
plus Prometheus metrics under /metrics. The search indexes are built
from the note store at startup and kept in sync on every write.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind address (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from config)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	// The server writes its own rotating log file; the root pre-run set up
	// stderr-only logging for one-shot commands.
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.FilePath = cfg.LogFilePath()
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer cleanup()
	slog.SetDefault(logger)

	// Two servers over one database would diverge: each holds its own
	// in-memory indexes.
	lock := store.NewDirLock(cfg.DataDir)
	if err := lock.TryLock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("embedder ready",
		slog.String("model", a.embedder.ModelName()),
		slog.Int("dimensions", a.embedder.Dimensions()))

	stats := a.engine.Stats()
	logger.Info("indexes ready",
		slog.Int("keyword_entries", stats.KeywordCount),
		slog.Int("vector_entries", stats.VectorCount),
		slog.Int("degraded_notes", stats.DegradedNotes))
	warnDegraded(logger, stats)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Notes whose embedding failed stay keyword-searchable; retry them
	// periodically so they recover once the provider is back.
	go retryDegradedLoop(ctx, a.engine, logger)

	srv := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, a.store, a.engine, a.metrics, a.registry, logger)

	return srv.Run(ctx)
}

func warnDegraded(logger *slog.Logger, stats search.Stats) {
	if stats.DegradedNotes > 0 {
		logger.Warn("some notes have no embedding and will only match by keyword",
			slog.Int("count", stats.DegradedNotes))
	}
}

func retryDegradedLoop(ctx context.Context, engine *search.Engine, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if engine.Stats().DegradedNotes == 0 {
				continue
			}
			repaired, err := engine.RetryDegraded(ctx)
			if err != nil {
				logger.Warn("degraded note repair failed", slog.String("error", err.Error()))
				continue
			}
			if repaired > 0 {
				logger.Info("repaired degraded notes", slog.Int("count", repaired))
			}
		}
	}
}
