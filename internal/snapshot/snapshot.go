// Package snapshot serializes the whole progress registry to durable storage.
// Every save rewrites the complete registry; there is no incremental format.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/p-blackswan/guide-engine/internal/progress"
)

// ErrEmpty is returned by Load when the backend holds no snapshot yet.
var ErrEmpty = errors.New("snapshot: nothing saved")

// Snapshot maps a project name to a copy of its record.
type Snapshot map[string]*progress.Record

// Backend persists and reloads snapshots. Implementations need not be safe
// for concurrent Save calls; the registry serializes them.
type Backend interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
	Name() string
}

// ActionRecorder is implemented by backends that also keep a per-action
// audit trail next to the snapshots.
type ActionRecorder interface {
	RecordAction(ctx context.Context, project string, stage progress.Stage, a progress.Action) error
}

// Encode renders snap as the canonical indented JSON document.
func Encode(snap Snapshot) ([]byte, error) {
	if snap == nil {
		snap = Snapshot{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return data, nil
}

// Decode parses a JSON document produced by Encode. Entries are keyed by map
// key; a record missing its name inherits the key.
func Decode(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	for name, rec := range snap {
		if rec == nil {
			delete(snap, name)
			continue
		}
		if rec.Name == "" {
			rec.Name = name
		}
	}
	return snap, nil
}
