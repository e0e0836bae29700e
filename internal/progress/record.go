// Package progress holds the per-project progress model: the stage a project
// is in, the log of actions taken against it, and the counters derived from
// that log.
package progress

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action is one logged outcome of an executed agent action. Result is kept
// verbatim so callers can attach arbitrary audit fields.
type Action struct {
	ID                 string         `json:"id"`
	Action             string         `json:"action"`
	Result             map[string]any `json:"result"`
	Timestamp          time.Time      `json:"timestamp"`
	ProjectState       string         `json:"project_state"`
	FilesAffected      []string       `json:"files_affected"`
	CodeChanges        map[string]any `json:"code_changes"`
	PerformanceMetrics map[string]any `json:"performance_metrics"`
	ErrorsEncountered  []string       `json:"errors_encountered"`
	TestsWritten       int            `json:"tests_written,omitempty"`
	CommitsMade        int            `json:"commits_made,omitempty"`
}

// Metrics are the running counters of a record. Everything but StartTime
// only ever grows.
type Metrics struct {
	StartTime         time.Time `json:"start_time"`
	TotalActions      int       `json:"total_actions"`
	ErrorsEncountered int       `json:"errors_encountered"`
	TestsWritten      int       `json:"tests_written"`
	CommitsMade       int       `json:"commits_made"`
}

// Analysis holds the rate metrics derived from a record.
type Analysis struct {
	ActionFrequency float64 `json:"action_frequency"`
	ErrorRate       float64 `json:"error_rate"`
	TestCoverage    float64 `json:"test_coverage"`
	CommitFrequency float64 `json:"commit_frequency"`
}

// Record is the progress state of a single project. All methods are safe for
// concurrent use.
type Record struct {
	Name             string   `json:"name"`
	CurrentStage     Stage    `json:"current_stage"`
	StagesCompleted  []Stage  `json:"stages_completed"`
	ActionsPerformed []Action `json:"actions_performed"`
	ChallengesFaced  []string `json:"challenges_faced"`
	Metrics          Metrics  `json:"metrics"`

	mu   sync.RWMutex
	reqs Requirements
	now  func() time.Time
}

// Option customizes a new Record.
type Option func(*Record)

// WithRequirements sets the stage requirement table used by IsStageComplete.
func WithRequirements(reqs Requirements) Option {
	return func(r *Record) { r.reqs = reqs }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Record) { r.now = now }
}

// NewRecord creates a record in the planning stage.
func NewRecord(name string, opts ...Option) *Record {
	r := &Record{
		Name:             name,
		CurrentStage:     StagePlanning,
		StagesCompleted:  []Stage{},
		ActionsPerformed: []Action{},
		ChallengesFaced:  []string{},
		reqs:             DefaultRequirements(),
		now:              time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.Metrics.StartTime = r.now()
	return r
}

// AddAction appends a to the action log and folds its counts into Metrics.
// A missing ID or timestamp is filled in.
func (r *Record) AddAction(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addAction(a)
}

func (r *Record) addAction(a Action) Action {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = r.now()
	}
	r.ActionsPerformed = append(r.ActionsPerformed, a)
	r.Metrics.TotalActions++
	r.Metrics.ErrorsEncountered += len(a.ErrorsEncountered)
	r.Metrics.TestsWritten += max(a.TestsWritten, 0)
	r.Metrics.CommitsMade += max(a.CommitsMade, 0)
	return a
}

// UpdateStage moves the record to s, pushing the stage being left onto
// StagesCompleted. Returns false when s is already current.
func (r *Record) UpdateStage(s Stage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateStage(s)
}

func (r *Record) updateStage(s Stage) bool {
	if s == r.CurrentStage {
		return false
	}
	r.StagesCompleted = append(r.StagesCompleted, r.CurrentStage)
	r.CurrentStage = s
	return true
}

// Applied describes the outcome of Apply.
type Applied struct {
	Action Action // as stored, with ID and timestamp filled in
	From   Stage  // stage before the update
	Stage  Stage  // stage after the update
	Moved  bool
}

// Apply appends a and, when to is non-empty, moves the record to to. check
// sees the stage current at the time of the change; the check, the append
// and the move happen under one lock. A rejected check records nothing.
func (r *Record) Apply(a Action, to Stage, check func(from, to Stage) error) (Applied, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Applied{From: r.CurrentStage}
	if to != "" && check != nil {
		if err := check(res.From, to); err != nil {
			res.Stage = res.From
			return res, err
		}
	}
	res.Action = r.addAction(a)
	res.Moved = to != "" && r.updateStage(to)
	res.Stage = r.CurrentStage
	return res, nil
}

// AddChallenge records a free-text challenge. Blank text is ignored.
func (r *Record) AddChallenge(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ChallengesFaced = append(r.ChallengesFaced, text)
}

// Stage returns the current stage.
func (r *Record) Stage() Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.CurrentStage
}

// TotalActions returns the number of recorded actions.
func (r *Record) TotalActions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Metrics.TotalActions
}

// RecentActions returns up to n of the most recent actions, oldest first.
func (r *Record) RecentActions(n int) []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 {
		return []Action{}
	}
	start := max(len(r.ActionsPerformed)-n, 0)
	out := make([]Action, len(r.ActionsPerformed)-start)
	copy(out, r.ActionsPerformed[start:])
	return out
}

// Analyze derives rate metrics. Divisors are floored at 1 so a fresh record
// yields zeros rather than NaN or Inf.
func (r *Record) Analyze() Analysis {
	r.mu.RLock()
	defer r.mu.RUnlock()

	elapsed := math.Max(r.now().Sub(r.Metrics.StartTime).Seconds(), 1)
	total := float64(max(r.Metrics.TotalActions, 1))

	return Analysis{
		ActionFrequency: float64(r.Metrics.TotalActions) / elapsed,
		ErrorRate:       float64(r.Metrics.ErrorsEncountered) / total,
		TestCoverage:    float64(r.Metrics.TestsWritten) / total,
		CommitFrequency: float64(r.Metrics.CommitsMade) / total,
	}
}

// IsStageComplete reports whether files contains every file required by stage.
func (r *Record) IsStageComplete(stage Stage, files []string) bool {
	return r.reqs.Complete(stage, files)
}

// MissingFiles lists the files stage still needs.
func (r *Record) MissingFiles(stage Stage, files []string) []string {
	return r.reqs.Missing(stage, files)
}

// Snapshot returns a copy suitable for serialization. The record's slices are
// copied; the maps inside each Action are shared and must not be modified.
func (r *Record) Snapshot() *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp := &Record{
		Name:             r.Name,
		CurrentStage:     r.CurrentStage,
		StagesCompleted:  append([]Stage{}, r.StagesCompleted...),
		ActionsPerformed: append([]Action{}, r.ActionsPerformed...),
		ChallengesFaced:  append([]string{}, r.ChallengesFaced...),
		Metrics:          r.Metrics,
		reqs:             r.reqs,
		now:              r.now,
	}
	return cp
}

// Restore rebuilds a live record from a decoded snapshot entry, repairing
// TotalActions if it drifted from the log length.
func Restore(saved *Record, opts ...Option) *Record {
	r := NewRecord(saved.Name, opts...)
	if saved.CurrentStage != "" {
		r.CurrentStage = saved.CurrentStage
	}
	r.StagesCompleted = append(r.StagesCompleted, saved.StagesCompleted...)
	r.ActionsPerformed = append(r.ActionsPerformed, saved.ActionsPerformed...)
	r.ChallengesFaced = append(r.ChallengesFaced, saved.ChallengesFaced...)
	if !saved.Metrics.StartTime.IsZero() {
		r.Metrics.StartTime = saved.Metrics.StartTime
	}
	r.Metrics.ErrorsEncountered = saved.Metrics.ErrorsEncountered
	r.Metrics.TestsWritten = saved.Metrics.TestsWritten
	r.Metrics.CommitsMade = saved.Metrics.CommitsMade
	r.Metrics.TotalActions = len(r.ActionsPerformed)
	return r
}
