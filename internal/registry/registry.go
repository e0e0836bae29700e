// Package registry owns every progress record. Records are created in one
// place (getOrCreate); the recording path and the cached lookup path both go
// through the same LRU front, so a project name maps to exactly one record
// for the life of the process.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	gerrors "github.com/p-blackswan/guide-engine/internal/errors"
	"github.com/p-blackswan/guide-engine/internal/feed"
	"github.com/p-blackswan/guide-engine/internal/metrics"
	"github.com/p-blackswan/guide-engine/internal/progress"
	"github.com/p-blackswan/guide-engine/internal/snapshot"
	"github.com/p-blackswan/guide-engine/lru"
)

// DefaultCacheSize is the lookup cache capacity when none is configured.
const DefaultCacheSize = 32

// Config holds registry settings.
type Config struct {
	CacheSize    int
	Policy       TransitionPolicy
	Requirements progress.Requirements
}

// Registry maps project names to progress records.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*progress.Record
	cache   *lru.Cache[string, *progress.Record]

	// persistMu serializes snapshot+write so at most one writer runs and the
	// last writer sees every mutation that finished before it.
	persistMu sync.Mutex
	backend   snapshot.Backend

	policy  TransitionPolicy
	reqs    progress.Requirements
	feed    *feed.Feed
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a registry persisting through backend. fd and m may be nil.
func New(cfg Config, backend snapshot.Backend, fd *feed.Feed, m *metrics.Metrics, logger zerolog.Logger) *Registry {
	if cfg.CacheSize < 1 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyAny
	}
	if cfg.Requirements == nil {
		cfg.Requirements = progress.DefaultRequirements()
	}

	r := &Registry{
		records: make(map[string]*progress.Record),
		backend: backend,
		policy:  cfg.Policy,
		reqs:    cfg.Requirements,
		feed:    fd,
		metrics: m,
		logger:  logger.With().Str("component", "registry").Logger(),
	}
	r.cache = lru.New[string, *progress.Record](cfg.CacheSize,
		lru.WithOnEvict[string, *progress.Record](func(name string, _ *progress.Record) {
			r.logger.Debug().Str("project", name).Msg("lookup cache eviction")
		}),
	)
	m.RegisterCacheStats(func() (uint64, uint64, uint64) {
		s := r.cache.Stats()
		return s.Hits, s.Misses, s.Evictions
	})
	return r
}

// stageLabel bounds metric label values to the known stages.
func stageLabel(s progress.Stage) string {
	if s.Known() {
		return string(s)
	}
	return "other"
}

// getOrCreate is the only place records are constructed.
func (r *Registry) getOrCreate(name string) *progress.Record {
	r.mu.RLock()
	rec, ok := r.records[name]
	r.mu.RUnlock()
	if ok {
		return rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[name]; ok {
		return rec
	}
	rec = progress.NewRecord(name, progress.WithRequirements(r.reqs))
	r.records[name] = rec
	r.metrics.SetProjects(len(r.records))
	r.logger.Info().Str("project", name).Msg("tracking new project")
	return rec
}

// lookup resolves name through the LRU front.
func (r *Registry) lookup(name string) *progress.Record {
	rec, _ := r.cache.GetOrAdd(name, func() *progress.Record {
		return r.getOrCreate(name)
	})
	return rec
}

// GetProjectProgress returns the record for name, creating it when needed.
func (r *Registry) GetProjectProgress(name string) *progress.Record {
	return r.lookup(name)
}

// Get returns the record for name without creating one.
func (r *Registry) Get(name string) (*progress.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return rec, ok
}

// Names returns the tracked project names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of tracked projects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Requirements returns the stage requirement table given to new records.
func (r *Registry) Requirements() progress.Requirements {
	return r.reqs
}

// Snapshot copies every record.
func (r *Registry) Snapshot() snapshot.Snapshot {
	r.mu.RLock()
	recs := make([]*progress.Record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	snap := make(snapshot.Snapshot, len(recs))
	for _, rec := range recs {
		snap[rec.Name] = rec.Snapshot()
	}
	return snap
}

// UpdateProgress records the outcome of an executed action against the
// project named by actx (or result), then persists the whole registry.
// Failures come back as *errors.GuideError; nothing is retried.
func (r *Registry) UpdateProgress(ctx context.Context, action string, result, actx map[string]any) error {
	name := ProjectName(actx, result)
	if err := r.updateProgress(ctx, name, action, result, actx); err != nil {
		r.logger.Error().Err(err).Str("project", name).Str("action", action).Msg("error updating progress")
		return gerrors.Wrap("update_progress", name, err)
	}
	return nil
}

func (r *Registry) updateProgress(ctx context.Context, name, action string, result, actx map[string]any) error {
	if action == "" {
		return fmt.Errorf("%w: action name is required", gerrors.ErrInvalidPayload)
	}
	if result == nil {
		result = map[string]any{}
	}
	stage, hasStage, err := requestedStage(result)
	if err != nil {
		return fmt.Errorf("%w: %v", gerrors.ErrInvalidPayload, err)
	}

	rec := r.lookup(name)

	var to progress.Stage
	if hasStage {
		to = stage
	}
	applied, err := rec.Apply(buildAction(action, result, actx), to, r.policy.Check)
	if err != nil {
		r.metrics.RecordTransition(stageLabel(applied.From), stageLabel(to), "denied")
		return err
	}
	if applied.Moved {
		r.metrics.RecordTransition(stageLabel(applied.From), stageLabel(to), "applied")
	}
	for _, c := range challenges(result, actx) {
		rec.AddChallenge(c)
	}

	a := applied.Action
	current := applied.Stage
	r.metrics.RecordAction(stageLabel(current), len(a.ErrorsEncountered))

	if err := r.SaveProgress(ctx); err != nil {
		return err
	}
	if recorder, ok := r.backend.(snapshot.ActionRecorder); ok {
		if err := recorder.RecordAction(ctx, name, current, a); err != nil {
			r.logger.Warn().Err(err).Str("project", name).Msg("failed to append action audit entry")
		}
	}

	status, _ := result["status"].(string)
	analysis := rec.Analyze()
	if r.feed != nil {
		r.feed.Publish("action", name, map[string]any{
			"action":   action,
			"stage":    current,
			"status":   status,
			"analysis": analysis,
		})
	}

	r.logger.Info().
		Str("project", name).
		Str("stage", string(current)).
		Str("action", action).
		Str("status", status).
		Int("total_actions", rec.TotalActions()).
		Interface("performance_metrics", a.PerformanceMetrics).
		Float64("error_rate", analysis.ErrorRate).
		Msg("updated progress")
	if len(a.ErrorsEncountered) > 0 {
		r.logger.Warn().Str("project", name).Strs("errors", a.ErrorsEncountered).Msg("errors encountered")
	}
	return nil
}

// SaveProgress writes the full registry through the backend.
func (r *Registry) SaveProgress(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	snap := r.Snapshot()
	start := time.Now()
	err := r.backend.Save(ctx, snap)
	r.metrics.ObservePersist(r.backend.Name(), time.Since(start).Seconds(), err)
	if err != nil {
		r.logger.Error().Err(err).Str("backend", r.backend.Name()).Msg("error saving progress")
		return gerrors.Wrap("save_progress", "", fmt.Errorf("%w: %w", gerrors.ErrPersist, err))
	}
	return nil
}

// Restore loads the latest snapshot from the backend. Records already present
// are kept; an empty backend is not an error. Returns the number of records
// loaded.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	snap, err := r.backend.Load(ctx)
	if errors.Is(err, snapshot.ErrEmpty) {
		return 0, nil
	}
	if err != nil {
		return 0, gerrors.Wrap("restore", "", fmt.Errorf("%w: %w", gerrors.ErrPersist, err))
	}

	r.mu.Lock()
	loaded := 0
	for name, saved := range snap {
		if _, exists := r.records[name]; exists {
			continue
		}
		r.records[name] = progress.Restore(saved, progress.WithRequirements(r.reqs))
		loaded++
	}
	total := len(r.records)
	r.mu.Unlock()

	r.metrics.SetProjects(total)
	r.logger.Info().Int("loaded", loaded).Str("backend", r.backend.Name()).Msg("progress restored")
	return loaded, nil
}
