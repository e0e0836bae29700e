package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS progress_snapshots (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at      INTEGER NOT NULL,
		project_count INTEGER NOT NULL,
		payload       TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON progress_snapshots(taken_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil
	}

	// Per-action audit trail, written alongside each snapshot.
	schema := `
	CREATE TABLE IF NOT EXISTS action_log (
		id          TEXT PRIMARY KEY,
		project     TEXT NOT NULL,
		action      TEXT NOT NULL,
		stage       TEXT NOT NULL,
		error_count INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_action_log_project ON action_log(project, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
