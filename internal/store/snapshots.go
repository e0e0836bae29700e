package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoSnapshot is returned by LatestSnapshot when nothing has been saved.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Snapshot is one stored registry snapshot.
type Snapshot struct {
	ID           int64
	TakenAt      int64
	ProjectCount int
	Payload      []byte
}

// ActionEntry is one row of the action audit trail.
type ActionEntry struct {
	ID         string
	Project    string
	Action     string
	Stage      string
	ErrorCount int
	CreatedAt  int64
}

// SaveSnapshot stores payload as the newest snapshot and returns its row id.
func (s *Store) SaveSnapshot(ctx context.Context, projectCount int, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_snapshots (taken_at, project_count, payload) VALUES (?, ?, ?)`,
		time.Now().UnixMilli(), projectCount, string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot id: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the most recently saved snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{}
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, taken_at, project_count, payload FROM progress_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&snap.ID, &snap.TakenAt, &snap.ProjectCount, &payload)
	if err == sql.ErrNoRows {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	snap.Payload = []byte(payload)
	return snap, nil
}

// CountSnapshots returns how many snapshots are stored.
func (s *Store) CountSnapshots(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM progress_snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

// RecordAction appends an entry to the action audit trail.
func (s *Store) RecordAction(ctx context.Context, e ActionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO action_log (id, project, action, stage, error_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Project, e.Action, e.Stage, e.ErrorCount, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// ListActions returns the audit trail for project, oldest first. limit <= 0
// means no limit.
func (s *Store) ListActions(ctx context.Context, project string, limit int) ([]ActionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, project, action, stage, error_count, created_at FROM action_log WHERE project = ? ORDER BY created_at ASC, rowid ASC`
	args := []interface{}{project}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var out []ActionEntry
	for rows.Next() {
		var e ActionEntry
		if err := rows.Scan(&e.ID, &e.Project, &e.Action, &e.Stage, &e.ErrorCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
