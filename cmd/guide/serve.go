package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/guide-engine/internal/api"
	"github.com/p-blackswan/guide-engine/internal/config"
	"github.com/p-blackswan/guide-engine/internal/feed"
	"github.com/p-blackswan/guide-engine/internal/guidance"
	"github.com/p-blackswan/guide-engine/internal/health"
	"github.com/p-blackswan/guide-engine/internal/metrics"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API: action recording, guidance, project inspection, the
/updates status feed and the /healthz, /readyz and /metrics endpoints.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg, os.Stdout)

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("snapshot_backend", cfg.SnapshotBackend).
		Str("transition_policy", cfg.TransitionPolicy).
		Msg("starting guide engine")

	d, err := openDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error().Err(err).Msg("closing snapshot store")
		}
	}()

	m := metrics.New()
	fd := feed.New(cfg.FeedSize)
	reg := d.newRegistry(fd, m)

	if cfg.RestoreOnStart {
		n, err := reg.Restore(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int("projects", n).Msg("restored progress")
	}

	eng := guidance.NewEngine(guidance.Config{RecentActions: cfg.RecentActions}, reg, d.playbook, nil, fd, m, logger)

	checker := health.NewChecker(logger)
	checker.Register("snapshot", health.SnapshotCheck(d.backend))
	checker.Register("disk", health.DiskCheck(filepath.Dir(cfg.SnapshotLocation()), cfg.DiskWarnPct))
	checker.Register("memory", health.MemoryCheck(cfg.MemoryWarnPct))

	srv := api.NewServer(api.ServerConfig{
		ListenAddr:  cfg.ListenAddr,
		CORSOrigins: cfg.CORSOriginList(),
	}, reg, eng, fd, checker, m, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down gracefully")
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Shutdown()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error().Err(err).Msg("API server shutdown error")
		}
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	// Final write so the last state survives even if a save failed earlier.
	if reg.Len() > 0 {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := reg.SaveProgress(flushCtx); err != nil {
			logger.Error().Err(err).Msg("final progress save failed")
		}
	}

	logger.Info().Msg("guide engine stopped")
	return nil
}
