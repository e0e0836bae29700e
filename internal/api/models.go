package api

import (
	"github.com/p-blackswan/guide-engine/internal/progress"
)

// ActionRequest is the body of POST /api/v1/actions.
type ActionRequest struct {
	Action  string         `json:"action"`
	Result  map[string]any `json:"result"`
	Context map[string]any `json:"context"`
}

// GuidanceRequest is the body of POST /api/v1/guidance.
type GuidanceRequest struct {
	Context map[string]any `json:"context"`
}

// StageCheckRequest is the body of POST /api/v1/projects/:name/stage-check.
// An empty stage checks the project's current stage.
type StageCheckRequest struct {
	Stage string   `json:"stage"`
	Files []string `json:"files"`
}

// StageCheckResponse reports stage completeness.
type StageCheckResponse struct {
	Project      string         `json:"project"`
	Stage        progress.Stage `json:"stage"`
	Complete     bool           `json:"complete"`
	MissingFiles []string       `json:"missing_files"`
}

// ProjectListResponse lists tracked projects.
type ProjectListResponse struct {
	Projects []string `json:"projects"`
	Total    int      `json:"total"`
}

// ProjectResponse is a record together with its derived rates.
type ProjectResponse struct {
	Project  *progress.Record  `json:"project"`
	Analysis progress.Analysis `json:"analysis"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
