package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/guide-engine/internal/config"
	"github.com/p-blackswan/guide-engine/internal/feed"
	"github.com/p-blackswan/guide-engine/internal/metrics"
	"github.com/p-blackswan/guide-engine/internal/playbook"
	"github.com/p-blackswan/guide-engine/internal/registry"
	"github.com/p-blackswan/guide-engine/internal/snapshot"
	"github.com/p-blackswan/guide-engine/internal/store"
)

// newLogger builds the process logger. Development uses the console writer.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(out).With().Timestamp().Logger()

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out})
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	log.Logger = logger
	return logger
}

// deps are the components shared by every command.
type deps struct {
	cfg      *config.Config
	logger   zerolog.Logger
	backend  snapshot.Backend
	store    *store.Store // nil unless the sqlite backend is selected
	playbook *playbook.Playbook
	policy   registry.TransitionPolicy
}

func openDeps(cfg *config.Config, logger zerolog.Logger) (*deps, error) {
	policy, err := registry.ParsePolicy(cfg.TransitionPolicy)
	if err != nil {
		return nil, err
	}

	pb := playbook.Default()
	if cfg.PlaybookPath != "" {
		pb, err = playbook.LoadFile(cfg.PlaybookPath)
		if err != nil {
			return nil, fmt.Errorf("loading playbook: %w", err)
		}
		logger.Info().Str("path", cfg.PlaybookPath).Msg("playbook loaded")
	}

	d := &deps{cfg: cfg, logger: logger, playbook: pb, policy: policy}

	switch cfg.SnapshotBackend {
	case config.BackendSQLite:
		ds, err := store.New(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot store: %w", err)
		}
		d.store = ds
		d.backend = snapshot.NewSQLBackend(ds, cfg.SnapshotRetain, logger)
	default:
		d.backend = snapshot.NewFileBackend(cfg.SnapshotPath, logger)
	}
	return d, nil
}

func (d *deps) newRegistry(fd *feed.Feed, m *metrics.Metrics) *registry.Registry {
	return registry.New(registry.Config{
		CacheSize:    d.cfg.CacheSize,
		Policy:       d.policy,
		Requirements: d.playbook.Requirements(),
	}, d.backend, fd, m, d.logger)
}

func (d *deps) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}
