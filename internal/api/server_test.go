package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/guide-engine/internal/feed"
	"github.com/p-blackswan/guide-engine/internal/guidance"
	"github.com/p-blackswan/guide-engine/internal/health"
	"github.com/p-blackswan/guide-engine/internal/metrics"
	"github.com/p-blackswan/guide-engine/internal/registry"
	"github.com/p-blackswan/guide-engine/internal/snapshot"
)

// testApp creates a Fiber app with all routes for testing.
func testApp(t *testing.T, backend snapshot.Backend, cfg registry.Config) (*fiber.App, *registry.Registry) {
	t.Helper()
	logger := zerolog.Nop()
	if backend == nil {
		backend = snapshot.NewFileBackend(filepath.Join(t.TempDir(), "progress.json"), logger)
	}
	fd := feed.New(feed.DefaultSize)
	m := metrics.New()
	reg := registry.New(cfg, backend, fd, m, logger)
	eng := guidance.NewEngine(guidance.Config{}, reg, nil, nil, fd, m, logger)

	checker := health.NewChecker(logger)
	checker.Register("snapshot", health.SnapshotCheck(backend))

	srv := NewServer(ServerConfig{ListenAddr: ":0"}, reg, eng, fd, checker, m, logger)
	return srv.App(), reg
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type failingBackend struct{}

func (failingBackend) Name() string { return "failing" }
func (failingBackend) Save(context.Context, snapshot.Snapshot) error {
	return errors.New("read-only filesystem")
}
func (failingBackend) Load(context.Context) (snapshot.Snapshot, error) {
	return nil, snapshot.ErrEmpty
}

func TestServer_HealthzEndpoint(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	resp := doJSON(t, app, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ReadyzEndpoint(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	resp := doJSON(t, app, "GET", "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	doJSON(t, app, "POST", "/api/v1/actions", `{"action":"create_file","context":{"current_project":{"name":"demo"}}}`)

	resp := doJSON(t, app, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "guide_actions_recorded_total")
}

func TestServer_RecordAction(t *testing.T) {
	app, reg := testApp(t, nil, registry.Config{})

	resp := doJSON(t, app, "POST", "/api/v1/actions",
		`{"action":"write_tests","result":{"status":"success","stage":"testing"},"context":{"current_project":{"name":"demo"}}}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	rec, ok := reg.Get("demo")
	require.True(t, ok)
	assert.Equal(t, 1, rec.TotalActions())
	assert.Equal(t, "testing", string(rec.Stage()))
}

func TestServer_RecordAction_InvalidBody(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	resp := doJSON(t, app, "POST", "/api/v1/actions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem ProblemDetail
	decode(t, resp, &problem)
	assert.Equal(t, "invalid_body", problem.Type)
	assert.Equal(t, "/api/v1/actions", problem.Instance)
}

func TestServer_RecordAction_MissingAction(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	resp := doJSON(t, app, "POST", "/api/v1/actions", `{"result":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem ProblemDetail
	decode(t, resp, &problem)
	assert.Equal(t, "invalid_payload", problem.Type)
}

func TestServer_RecordAction_PolicyRejections(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{Policy: registry.PolicyForward})
	ctx := `"context":{"current_project":{"name":"demo"}}`

	resp := doJSON(t, app, "POST", "/api/v1/actions", `{"action":"a","result":{"stage":"launch"},`+ctx+`}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = doJSON(t, app, "POST", "/api/v1/actions", `{"action":"a","result":{"stage":"testing"},`+ctx+`}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, "POST", "/api/v1/actions", `{"action":"a","result":{"stage":"planning"},`+ctx+`}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_RecordAction_PersistFailure(t *testing.T) {
	app, _ := testApp(t, failingBackend{}, registry.Config{})

	resp := doJSON(t, app, "POST", "/api/v1/actions", `{"action":"create_file"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var problem ProblemDetail
	decode(t, resp, &problem)
	assert.Equal(t, "internal_error", problem.Type)
	assert.Equal(t, "An internal error occurred", problem.Detail)
}

func TestServer_Guidance(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	doJSON(t, app, "POST", "/api/v1/actions",
		`{"action":"write_tests","result":{"stage":"testing"},"context":{"current_project":{"name":"p"}}}`)

	resp := doJSON(t, app, "POST", "/api/v1/guidance", `{"context":{"system_status":{"current_project":{"name":"p"}}}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var g guidance.Guidance
	decode(t, resp, &g)
	assert.Equal(t, "write_tests", g.RecommendedAction)
	assert.Equal(t, []string{"run_code", "analyze_code"}, g.AlternativeActions)
}

func TestServer_Guidance_AlwaysOK(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	resp := doJSON(t, app, "POST", "/api/v1/guidance", `{"context":{"system_status":"garbage"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var g guidance.Guidance
	decode(t, resp, &g)
	assert.Equal(t, guidance.Fallback(), g)

	resp = doJSON(t, app, "POST", "/api/v1/guidance", `{broken`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &g)
	assert.Equal(t, "analyze_project_state", g.RecommendedAction)

	resp = doJSON(t, app, "POST", "/api/v1/guidance", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &g)
	assert.Equal(t, "create_project", g.RecommendedAction)
}

func TestServer_Projects(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	for _, name := range []string{"beta", "alpha"} {
		resp := doJSON(t, app, "POST", "/api/v1/actions",
			`{"action":"create_file","context":{"current_project":{"name":"`+name+`"}}}`)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	resp := doJSON(t, app, "GET", "/api/v1/projects", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var list ProjectListResponse
	decode(t, resp, &list)
	assert.Equal(t, []string{"alpha", "beta"}, list.Projects)
	assert.Equal(t, 2, list.Total)

	resp = doJSON(t, app, "GET", "/api/v1/projects/alpha", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "alpha", body["project"]["name"])
	assert.Equal(t, "planning", body["project"]["current_stage"])
	assert.Contains(t, body["analysis"], "action_frequency")
}

func TestServer_GetProject_NotFound(t *testing.T) {
	app, reg := testApp(t, nil, registry.Config{})

	resp := doJSON(t, app, "GET", "/api/v1/projects/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem ProblemDetail
	decode(t, resp, &problem)
	assert.Equal(t, "project_not_found", problem.Type)
	assert.Equal(t, 0, reg.Len(), "inspection never creates records")
}

func TestServer_StageCheck(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})
	doJSON(t, app, "POST", "/api/v1/actions", `{"action":"create_file","context":{"current_project":{"name":"p"}}}`)

	resp := doJSON(t, app, "POST", "/api/v1/projects/p/stage-check",
		`{"stage":"implementation","files":["main.py","README.md"]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var check StageCheckResponse
	decode(t, resp, &check)
	assert.False(t, check.Complete)
	assert.Equal(t, []string{"test_main.py"}, check.MissingFiles)

	resp = doJSON(t, app, "POST", "/api/v1/projects/p/stage-check", `{"files":["research_and_plan.md"]}`)
	decode(t, resp, &check)
	assert.Equal(t, "planning", string(check.Stage))
	assert.True(t, check.Complete)
	assert.Empty(t, check.MissingFiles)

	resp = doJSON(t, app, "POST", "/api/v1/projects/ghost/stage-check", `{"files":[]}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Updates(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})
	doJSON(t, app, "POST", "/api/v1/actions", `{"action":"create_file","context":{"current_project":{"name":"p"}}}`)

	resp := doJSON(t, app, "GET", "/updates", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), "["), "feed body is a JSON array: %s", raw)

	var updates []feed.Update
	require.NoError(t, json.Unmarshal(raw, &updates))
	require.Len(t, updates, 1)
	assert.Equal(t, "action", updates[0].Kind)
	assert.Equal(t, "p", updates[0].Project)
	assert.False(t, updates[0].Timestamp.IsZero())
	assert.NotNil(t, updates[0].Data)
}

func TestServer_UnknownRoute(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	resp := doJSON(t, app, "GET", "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var problem ProblemDetail
	decode(t, resp, &problem)
	assert.Equal(t, "http_error", problem.Type)
}

func TestServer_Updates_EmptyIsArray(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	resp := doJSON(t, app, "GET", "/updates", "")
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestServer_Guidance_UndefinedStageWireShape(t *testing.T) {
	app, _ := testApp(t, nil, registry.Config{})

	resp := doJSON(t, app, "POST", "/api/v1/actions",
		`{"action":"deploy","result":{"stage":"deployment"},"context":{"current_project":{"name":"p"}}}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, app, "POST", "/api/v1/guidance", `{"context":{"system_status":{"current_project":"p"}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "deployment", body["current_stage"])
	require.Contains(t, body, "recommended_action")
	assert.Nil(t, body["recommended_action"])
	require.Contains(t, body, "alternative_actions")
	assert.Equal(t, []any{}, body["alternative_actions"])
}
