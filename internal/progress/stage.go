package progress

import "fmt"

// Stage is a workflow phase of a tracked project.
type Stage string

const (
	StagePlanning       Stage = "planning"
	StageImplementation Stage = "implementation"
	StageTesting        Stage = "testing"
	StageReview         Stage = "review"
)

// Stages lists the closed stage set in workflow order.
var Stages = []Stage{StagePlanning, StageImplementation, StageTesting, StageReview}

// Known reports whether s belongs to the closed stage set.
func (s Stage) Known() bool {
	return s.Index() >= 0
}

// Index returns the position of s in workflow order, or -1 when unknown.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) String() string { return string(s) }

// ParseStage converts a raw value into a known Stage.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.Known() {
		return "", fmt.Errorf("unknown stage %q", raw)
	}
	return s, nil
}

// Requirements maps a stage to the file names that must exist before the
// stage counts as complete. Tables are built once and treated as read-only.
type Requirements map[Stage][]string

// DefaultRequirements returns the built-in stage requirement table.
func DefaultRequirements() Requirements {
	return Requirements{
		StagePlanning:       {"research_and_plan.md"},
		StageImplementation: {"main.py", "README.md", "test_main.py"},
		StageTesting:        {"test_main.py"},
		StageReview:         {"code_analysis.md"},
	}
}

// Missing returns the required files for stage absent from files, in table
// order. Unknown stages have no requirements.
func (r Requirements) Missing(stage Stage, files []string) []string {
	required := r[stage]
	if len(required) == 0 {
		return nil
	}
	present := make(map[string]struct{}, len(files))
	for _, f := range files {
		present[f] = struct{}{}
	}
	var missing []string
	for _, f := range required {
		if _, ok := present[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// Complete reports whether every required file for stage is in files.
func (r Requirements) Complete(stage Stage, files []string) bool {
	return len(r.Missing(stage, files)) == 0
}
