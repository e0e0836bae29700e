package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileBackend writes the snapshot as one JSON document. Writes go to a temp
// file in the same directory and are renamed into place, so readers never
// see a torn file.
type FileBackend struct {
	path   string
	logger zerolog.Logger
}

// NewFileBackend creates a backend writing to path.
func NewFileBackend(path string, logger zerolog.Logger) *FileBackend {
	return &FileBackend{
		path:   path,
		logger: logger.With().Str("component", "snapshot.file").Logger(),
	}
}

// Name implements Backend.
func (f *FileBackend) Name() string { return "file" }

// Path returns the snapshot file location.
func (f *FileBackend) Path() string { return f.path }

// Save implements Backend.
func (f *FileBackend) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("snapshot: rename into %s: %w", f.path, err)
	}

	f.logger.Debug().Str("path", f.path).Int("projects", len(snap)).Int("bytes", len(data)).Msg("progress saved")
	return nil
}

// Load implements Backend. A missing file yields ErrEmpty.
func (f *FileBackend) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", f.path, err)
	}
	return Decode(data)
}
