// Package guidance recommends the next action for a project from its current
// stage and recent history.
//
// Recording progress fails loudly; guidance never does. Any error or panic
// while building a recommendation is logged and replaced by Fallback().
package guidance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/guide-engine/internal/feed"
	"github.com/p-blackswan/guide-engine/internal/metrics"
	"github.com/p-blackswan/guide-engine/internal/playbook"
	"github.com/p-blackswan/guide-engine/internal/progress"
)

// Guidance sources.
const (
	SourceStage    = "stage"
	SourceBaseline = "baseline"
	SourceFallback = "fallback"
)

// DefaultRecentActions is how many recent actions are consulted.
const DefaultRecentActions = 5

// Guidance is a structured recommendation. Stage-based guidance fills the
// action and analysis fields; baseline and fallback guidance also fill the
// narrative fields.
type Guidance struct {
	Source             string             `json:"source"`
	Project            string             `json:"project,omitempty"`
	CurrentStage       progress.Stage     `json:"current_stage,omitempty"`
	RecommendedAction  string             `json:"recommended_action"`
	AlternativeActions []string           `json:"alternative_actions,omitempty"`
	ProgressAnalysis   *progress.Analysis `json:"progress_analysis,omitempty"`
	RecentActions      []string           `json:"recent_actions,omitempty"`
	StageComplete      *bool              `json:"stage_complete,omitempty"`
	MissingFiles       []string           `json:"missing_files,omitempty"`

	NextPriority            string   `json:"next_priority,omitempty"`
	PotentialChallenges     []string `json:"potential_challenges,omitempty"`
	TipsAndSuggestions      []string `json:"tips_and_suggestions,omitempty"`
	AreasNeedingAttention   []string `json:"areas_needing_attention,omitempty"`
	SpecificRecommendations []string `json:"specific_recommendations,omitempty"`
}

// MarshalJSON writes stage guidance with recommended_action null when the
// stage has no recommendations and alternative_actions always present.
// Baseline and fallback guidance encode as declared.
func (g Guidance) MarshalJSON() ([]byte, error) {
	type plain Guidance
	if g.Source != SourceStage {
		return json.Marshal(plain(g))
	}

	out := struct {
		plain
		RecommendedAction  *string  `json:"recommended_action"`
		AlternativeActions []string `json:"alternative_actions"`
	}{plain: plain(g), AlternativeActions: g.AlternativeActions}
	if g.RecommendedAction != "" {
		out.RecommendedAction = &g.RecommendedAction
	}
	if out.AlternativeActions == nil {
		out.AlternativeActions = []string{}
	}
	return json.Marshal(out)
}

// Fallback returns the fixed guidance used when normal generation fails.
func Fallback() Guidance {
	return Guidance{
		Source:                  SourceFallback,
		NextPriority:            "Resolve system issues",
		PotentialChallenges:     []string{"System encountered an unexpected state"},
		TipsAndSuggestions:      []string{"Review system logs", "Check for any missing or corrupted data"},
		AreasNeedingAttention:   []string{"System stability", "Error handling"},
		RecommendedAction:       "analyze_project_state",
		SpecificRecommendations: []string{"Perform a system health check"},
	}
}

// ProgressSource resolves a project's record, creating it if needed.
type ProgressSource interface {
	GetProjectProgress(name string) *progress.Record
}

// Baseline produces guidance when no project is active. It is normally
// backed by the LLM layer.
type Baseline interface {
	ProvideGuidance(ctx context.Context, gctx map[string]any) (Guidance, error)
}

// BaselineFunc adapts a function into a Baseline.
type BaselineFunc func(ctx context.Context, gctx map[string]any) (Guidance, error)

// ProvideGuidance implements Baseline.
func (f BaselineFunc) ProvideGuidance(ctx context.Context, gctx map[string]any) (Guidance, error) {
	return f(ctx, gctx)
}

// StaticBaseline recommends starting a project.
var StaticBaseline = BaselineFunc(func(context.Context, map[string]any) (Guidance, error) {
	return Guidance{
		NextPriority:       "Start or select a project",
		RecommendedAction:  "create_project",
		AlternativeActions: []string{"research_and_plan"},
		TipsAndSuggestions: []string{"Define the project goal before generating code"},
	}, nil
})

// Config holds engine settings.
type Config struct {
	RecentActions int
}

// Engine produces guidance.
type Engine struct {
	source   ProgressSource
	playbook *playbook.Playbook
	baseline Baseline
	recent   int
	feed     *feed.Feed
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewEngine creates a guidance engine. pb defaults to playbook.Default(),
// baseline to StaticBaseline; fd and m may be nil.
func NewEngine(cfg Config, src ProgressSource, pb *playbook.Playbook, baseline Baseline, fd *feed.Feed, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if cfg.RecentActions < 1 {
		cfg.RecentActions = DefaultRecentActions
	}
	if pb == nil {
		pb = playbook.Default()
	}
	if baseline == nil {
		baseline = StaticBaseline
	}
	return &Engine{
		source:   src,
		playbook: pb,
		baseline: baseline,
		recent:   cfg.RecentActions,
		feed:     fd,
		metrics:  m,
		logger:   logger.With().Str("component", "guidance").Logger(),
	}
}

// Recommendations returns the ordered actions for stage.
func (e *Engine) Recommendations(stage progress.Stage) []string {
	return e.playbook.Recommendations(stage)
}

// ProvideGuidance returns guidance for the context. It never fails.
func (e *Engine) ProvideGuidance(ctx context.Context, gctx map[string]any) (g Guidance) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error().Interface("panic", rec).Msg("error providing guidance")
			g = Fallback()
		}
		e.metrics.RecordGuidance(g.Source)
		if e.feed != nil {
			e.feed.Publish("guidance", g.Project, map[string]any{
				"source":             g.Source,
				"recommended_action": g.RecommendedAction,
			})
		}
	}()

	g, err := e.provide(ctx, gctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("error providing guidance")
		return Fallback()
	}
	return g
}

func (e *Engine) provide(ctx context.Context, gctx map[string]any) (Guidance, error) {
	if err := ctx.Err(); err != nil {
		return Guidance{}, err
	}

	name, ok, err := currentProject(gctx)
	if err != nil {
		return Guidance{}, err
	}
	if !ok {
		g, err := e.baseline.ProvideGuidance(ctx, gctx)
		if err != nil {
			return Guidance{}, fmt.Errorf("baseline guidance: %w", err)
		}
		g.Source = SourceBaseline
		return g, nil
	}

	rec := e.source.GetProjectProgress(name)
	if rec == nil {
		return Guidance{}, fmt.Errorf("no progress record for %q", name)
	}

	stage := rec.Stage()
	recent := rec.RecentActions(e.recent)
	analysis := rec.Analyze()
	recs := e.playbook.Recommendations(stage)

	recentNames := make([]string, len(recent))
	for i, a := range recent {
		recentNames[i] = a.Action
	}

	e.logger.Info().
		Str("project", name).
		Str("stage", string(stage)).
		Strs("recent_actions", recentNames).
		Float64("action_frequency", analysis.ActionFrequency).
		Float64("error_rate", analysis.ErrorRate).
		Float64("test_coverage", analysis.TestCoverage).
		Float64("commit_frequency", analysis.CommitFrequency).
		Msg("providing guidance")

	g := Guidance{
		Source:             SourceStage,
		Project:            name,
		CurrentStage:       stage,
		AlternativeActions: []string{},
		ProgressAnalysis:   &analysis,
		RecentActions:      recentNames,
	}
	if len(recs) > 0 {
		g.RecommendedAction = recs[0]
		g.AlternativeActions = recs[1:]
	}

	if raw, ok := gctx["project_files"]; ok && raw != nil {
		files, err := stringList(raw)
		if err != nil {
			return Guidance{}, fmt.Errorf("project_files: %w", err)
		}
		complete := rec.IsStageComplete(stage, files)
		g.StageComplete = &complete
		g.MissingFiles = rec.MissingFiles(stage, files)
	}
	return g, nil
}

// currentProject reads system_status.current_project. current_project may be
// a map carrying "name" or a bare string.
func currentProject(gctx map[string]any) (string, bool, error) {
	raw, ok := gctx["system_status"]
	if !ok || raw == nil {
		return "", false, nil
	}
	status, ok := raw.(map[string]any)
	if !ok {
		return "", false, fmt.Errorf("system_status: expected object, got %T", raw)
	}

	switch cp := status["current_project"].(type) {
	case nil:
		return "", false, nil
	case string:
		return cp, cp != "", nil
	case map[string]any:
		name, ok := cp["name"].(string)
		if !ok || name == "" {
			return "", false, fmt.Errorf("current_project: missing name")
		}
		return name, true, nil
	default:
		return "", false, fmt.Errorf("current_project: unexpected %T", cp)
	}
}

func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list of strings, got %T", v)
	}
}
