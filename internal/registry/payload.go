package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/p-blackswan/guide-engine/internal/progress"
)

// DefaultProjectName is used when neither the context nor the result names a
// project.
const DefaultProjectName = "unknown_project"

var (
	testActions   = map[string]bool{"write_tests": true}
	commitActions = map[string]bool{"commit": true, "commit_changes": true, "git_commit": true}
)

// ProjectName extracts current_project.name from the first payload that has
// one. current_project may also be a bare string.
func ProjectName(payloads ...map[string]any) string {
	for _, p := range payloads {
		switch cp := p["current_project"].(type) {
		case string:
			if cp != "" {
				return cp
			}
		case map[string]any:
			if name, ok := cp["name"].(string); ok && name != "" {
				return name
			}
		}
	}
	return DefaultProjectName
}

// buildAction assembles an action record. Each field comes from result,
// then from the call context, then a placeholder.
func buildAction(action string, result, actx map[string]any) progress.Action {
	if result == nil {
		result = map[string]any{}
	}
	a := progress.Action{
		Action:             action,
		Result:             result,
		ProjectState:       "unknown",
		FilesAffected:      []string{},
		CodeChanges:        map[string]any{},
		PerformanceMetrics: map[string]any{},
		ErrorsEncountered:  []string{},
	}

	if v, ok := pick("project_state", result, actx).(string); ok && v != "" {
		a.ProjectState = v
	}
	if v := pick("files_affected", result, actx); v != nil {
		a.FilesAffected = stringList(v)
	}
	if v, ok := pick("code_changes", result, actx).(map[string]any); ok {
		a.CodeChanges = v
	}
	if v, ok := pick("performance_metrics", result, actx).(map[string]any); ok {
		a.PerformanceMetrics = v
	}
	if v := pick("errors_encountered", result, actx); v != nil {
		a.ErrorsEncountered = stringList(v)
	}
	if msg, ok := result["error"].(string); ok && msg != "" {
		a.ErrorsEncountered = append(a.ErrorsEncountered, msg)
	}

	if n, ok := intValue(pick("tests_written", result, actx)); ok {
		a.TestsWritten = n
	} else if testActions[action] {
		a.TestsWritten = 1
	}
	if n, ok := intValue(pick("commits_made", result, actx)); ok {
		a.CommitsMade = n
	} else if commitActions[action] {
		a.CommitsMade = 1
	}
	return a
}

// challenges collects challenge text from the challenge and challenges_faced
// keys of every payload.
func challenges(payloads ...map[string]any) []string {
	var out []string
	for _, p := range payloads {
		for _, key := range []string{"challenge", "challenges_faced"} {
			if v, ok := p[key]; ok && v != nil {
				out = append(out, stringList(v)...)
			}
		}
	}
	return out
}

// requestedStage returns the stage named by result.stage, if any.
func requestedStage(result map[string]any) (progress.Stage, bool, error) {
	raw, ok := result["stage"]
	if !ok || raw == nil {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, fmt.Errorf("stage must be a string, got %T", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false, nil
	}
	return progress.Stage(s), true, nil
}

func pick(key string, payloads ...map[string]any) any {
	for _, p := range payloads {
		if v, ok := p[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	case []string:
		return append([]string{}, t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
