package guidance

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/guide-engine/internal/feed"
	"github.com/p-blackswan/guide-engine/internal/metrics"
	"github.com/p-blackswan/guide-engine/internal/progress"
	"github.com/p-blackswan/guide-engine/internal/registry"
	"github.com/p-blackswan/guide-engine/internal/snapshot"
)

func setupEngine(t *testing.T) (*Engine, *registry.Registry, *feed.Feed) {
	t.Helper()
	backend := snapshot.NewFileBackend(filepath.Join(t.TempDir(), "progress.json"), zerolog.Nop())
	fd := feed.New(10)
	m := metrics.New()
	reg := registry.New(registry.Config{}, backend, fd, m, zerolog.Nop())
	return NewEngine(Config{}, reg, nil, nil, fd, m, zerolog.Nop()), reg, fd
}

func statusCtx(project any) map[string]any {
	return map[string]any{"system_status": map[string]any{"current_project": project}}
}

type panickingSource struct{}

func (panickingSource) GetProjectProgress(string) *progress.Record { panic("boom") }

func TestProvideGuidance_TestingStage(t *testing.T) {
	e, reg, _ := setupEngine(t)
	ctx := context.Background()
	actx := map[string]any{"current_project": map[string]any{"name": "p"}}

	require.NoError(t, reg.UpdateProgress(ctx, "write_tests", map[string]any{"stage": "testing"}, actx))

	g := e.ProvideGuidance(ctx, statusCtx(map[string]any{"name": "p"}))
	assert.Equal(t, SourceStage, g.Source)
	assert.Equal(t, progress.StageTesting, g.CurrentStage)
	assert.Equal(t, "write_tests", g.RecommendedAction)
	assert.Equal(t, []string{"run_code", "analyze_code"}, g.AlternativeActions)
	require.NotNil(t, g.ProgressAnalysis)
	assert.Equal(t, 1.0, g.ProgressAnalysis.TestCoverage)
	assert.Equal(t, []string{"write_tests"}, g.RecentActions)
	assert.Nil(t, g.StageComplete)
}

func TestProvideGuidance_NewProjectStartsInPlanning(t *testing.T) {
	e, reg, _ := setupEngine(t)

	g := e.ProvideGuidance(context.Background(), statusCtx("fresh"))
	assert.Equal(t, progress.StagePlanning, g.CurrentStage)
	assert.Equal(t, "research_and_plan", g.RecommendedAction)
	assert.Equal(t, []string{"create_file"}, g.AlternativeActions)
	assert.Equal(t, 0.0, g.ProgressAnalysis.ErrorRate)

	_, ok := reg.Get("fresh")
	assert.True(t, ok, "cached lookup creates the record")
}

func TestProvideGuidance_UndefinedStage(t *testing.T) {
	e, reg, _ := setupEngine(t)
	ctx := context.Background()
	actx := map[string]any{"current_project": map[string]any{"name": "odd"}}

	require.NoError(t, reg.UpdateProgress(ctx, "deploy", map[string]any{"stage": "deployment"}, actx))

	g := e.ProvideGuidance(ctx, statusCtx("odd"))
	assert.Equal(t, SourceStage, g.Source)
	assert.Equal(t, progress.Stage("deployment"), g.CurrentStage)
	assert.Empty(t, g.RecommendedAction)
	assert.Empty(t, g.AlternativeActions)
}

func TestProvideGuidance_ProjectFiles(t *testing.T) {
	e, _, _ := setupEngine(t)
	gctx := statusCtx("p")

	gctx["project_files"] = []any{"notes.txt"}
	g := e.ProvideGuidance(context.Background(), gctx)
	require.NotNil(t, g.StageComplete)
	assert.False(t, *g.StageComplete)
	assert.Equal(t, []string{"research_and_plan.md"}, g.MissingFiles)

	gctx["project_files"] = []string{"research_and_plan.md"}
	g = e.ProvideGuidance(context.Background(), gctx)
	require.NotNil(t, g.StageComplete)
	assert.True(t, *g.StageComplete)
	assert.Empty(t, g.MissingFiles)
}

func TestProvideGuidance_MalformedContextFallsBack(t *testing.T) {
	e, _, _ := setupEngine(t)

	cases := map[string]map[string]any{
		"status not a map":      {"system_status": "broken"},
		"project without name":  statusCtx(map[string]any{"id": 3}),
		"project wrong type":    statusCtx(42),
		"project_files garbage": {"system_status": map[string]any{"current_project": "p"}, "project_files": 7},
	}
	for name, gctx := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, Fallback(), e.ProvideGuidance(context.Background(), gctx))
		})
	}
}

func TestProvideGuidance_PanicFallsBack(t *testing.T) {
	e := NewEngine(Config{}, panickingSource{}, nil, nil, nil, nil, zerolog.Nop())

	var g Guidance
	require.NotPanics(t, func() {
		g = e.ProvideGuidance(context.Background(), statusCtx("p"))
	})
	assert.Equal(t, Fallback(), g)
}

func TestProvideGuidance_CancelledContextFallsBack(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, Fallback(), e.ProvideGuidance(ctx, statusCtx("p")))
}

func TestProvideGuidance_Baseline(t *testing.T) {
	e, reg, _ := setupEngine(t)

	for _, gctx := range []map[string]any{nil, {}, statusCtx(nil), statusCtx("")} {
		g := e.ProvideGuidance(context.Background(), gctx)
		assert.Equal(t, SourceBaseline, g.Source)
		assert.Equal(t, "create_project", g.RecommendedAction)
	}
	assert.Equal(t, 0, reg.Len(), "baseline guidance creates no records")
}

func TestProvideGuidance_CustomBaseline(t *testing.T) {
	var seen map[string]any
	baseline := BaselineFunc(func(_ context.Context, gctx map[string]any) (Guidance, error) {
		seen = gctx
		return Guidance{RecommendedAction: "ask_user"}, nil
	})
	e := NewEngine(Config{}, panickingSource{}, nil, baseline, nil, nil, zerolog.Nop())

	gctx := map[string]any{"goal": "x"}
	g := e.ProvideGuidance(context.Background(), gctx)
	assert.Equal(t, "ask_user", g.RecommendedAction)
	assert.Equal(t, SourceBaseline, g.Source)
	assert.Equal(t, gctx, seen)
}

func TestProvideGuidance_BaselineErrorFallsBack(t *testing.T) {
	baseline := BaselineFunc(func(context.Context, map[string]any) (Guidance, error) {
		return Guidance{}, errors.New("llm unavailable")
	})
	e := NewEngine(Config{}, panickingSource{}, nil, baseline, nil, nil, zerolog.Nop())

	assert.Equal(t, Fallback(), e.ProvideGuidance(context.Background(), nil))
}

func TestProvideGuidance_RecentActionsLimit(t *testing.T) {
	backend := snapshot.NewFileBackend(filepath.Join(t.TempDir(), "progress.json"), zerolog.Nop())
	reg := registry.New(registry.Config{}, backend, nil, nil, zerolog.Nop())
	e := NewEngine(Config{RecentActions: 2}, reg, nil, nil, nil, nil, zerolog.Nop())
	ctx := context.Background()
	actx := map[string]any{"current_project": map[string]any{"name": "p"}}

	for _, a := range []string{"a", "b", "c"} {
		require.NoError(t, reg.UpdateProgress(ctx, a, nil, actx))
	}

	g := e.ProvideGuidance(ctx, statusCtx("p"))
	assert.Equal(t, []string{"b", "c"}, g.RecentActions)
}

func TestProvideGuidance_PublishesFeedUpdate(t *testing.T) {
	e, _, fd := setupEngine(t)

	e.ProvideGuidance(context.Background(), statusCtx("p"))
	updates := fd.List()
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, "guidance", last.Kind)
	assert.Equal(t, "p", last.Project)
}

func TestFallback_Fields(t *testing.T) {
	g := Fallback()
	assert.Equal(t, "Resolve system issues", g.NextPriority)
	assert.Equal(t, "analyze_project_state", g.RecommendedAction)
	assert.Equal(t, []string{"Review system logs", "Check for any missing or corrupted data"}, g.TipsAndSuggestions)
	assert.Equal(t, []string{"Perform a system health check"}, g.SpecificRecommendations)
}

func TestGuidanceJSON_UndefinedStage(t *testing.T) {
	e, reg, _ := setupEngine(t)
	ctx := context.Background()
	actx := map[string]any{"current_project": map[string]any{"name": "odd"}}
	require.NoError(t, reg.UpdateProgress(ctx, "deploy", map[string]any{"stage": "deployment"}, actx))

	data, err := json.Marshal(e.ProvideGuidance(ctx, statusCtx("odd")))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	require.Contains(t, body, "recommended_action")
	assert.Nil(t, body["recommended_action"])
	assert.Equal(t, []any{}, body["alternative_actions"])
	assert.Equal(t, "deployment", body["current_stage"])
}

func TestGuidanceJSON_KnownStage(t *testing.T) {
	e, _, _ := setupEngine(t)

	data, err := json.Marshal(e.ProvideGuidance(context.Background(), statusCtx("p")))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "research_and_plan", body["recommended_action"])
	assert.Equal(t, []any{"create_file"}, body["alternative_actions"])
	assert.Contains(t, body, "progress_analysis")
}

func TestGuidanceJSON_FallbackUnchanged(t *testing.T) {
	data, err := json.Marshal(Fallback())
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "analyze_project_state", body["recommended_action"])
	assert.Equal(t, "Resolve system issues", body["next_priority"])
	assert.NotContains(t, body, "alternative_actions")
}
