package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/guide-engine/internal/progress"
	"github.com/p-blackswan/guide-engine/internal/store"
)

// SQLBackend stores each snapshot as a row in SQLite and prunes all but the
// newest Retain rows after every save.
type SQLBackend struct {
	ds     *store.Store
	retain int
	logger zerolog.Logger
}

// NewSQLBackend creates a SQLite-backed snapshot store. retain <= 0 keeps
// every snapshot.
func NewSQLBackend(ds *store.Store, retain int, logger zerolog.Logger) *SQLBackend {
	return &SQLBackend{
		ds:     ds,
		retain: retain,
		logger: logger.With().Str("component", "snapshot.sqlite").Logger(),
	}
}

// Name implements Backend.
func (b *SQLBackend) Name() string { return "sqlite" }

// Save implements Backend.
func (b *SQLBackend) Save(ctx context.Context, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	id, err := b.ds.SaveSnapshot(ctx, len(snap), data)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if _, err := b.ds.RunRetention(ctx, b.retain); err != nil {
		// The snapshot itself is stored; only pruning failed.
		b.logger.Warn().Err(err).Int64("snapshot_id", id).Msg("snapshot retention failed")
	}
	return nil
}

// Load implements Backend.
func (b *SQLBackend) Load(ctx context.Context) (Snapshot, error) {
	row, err := b.ds.LatestSnapshot(ctx)
	if errors.Is(err, store.ErrNoSnapshot) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return Decode(row.Payload)
}

// RecordAction implements ActionRecorder by appending to the audit trail.
func (b *SQLBackend) RecordAction(ctx context.Context, project string, stage progress.Stage, a progress.Action) error {
	return b.ds.RecordAction(ctx, store.ActionEntry{
		ID:         a.ID,
		Project:    project,
		Action:     a.Action,
		Stage:      string(stage),
		ErrorCount: len(a.ErrorsEncountered),
		CreatedAt:  a.Timestamp.UnixMilli(),
	})
}
