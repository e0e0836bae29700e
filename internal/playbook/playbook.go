// Package playbook defines, per stage, the files that mark the stage complete
// and the ordered actions recommended while a project sits in it. The built-in
// playbook can be replaced by a YAML file at startup.
package playbook

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/guide-engine/internal/progress"
)

// StageSpec describes one stage of the playbook.
type StageSpec struct {
	Name            progress.Stage `yaml:"name"`
	RequiredFiles   []string       `yaml:"required_files"`
	Recommendations []string       `yaml:"recommendations"`
}

// Playbook is an immutable stage table. Build it with Default, Parse or
// LoadFile.
type Playbook struct {
	Stages []StageSpec `yaml:"stages"`

	byName map[progress.Stage]StageSpec
}

// Default returns the built-in playbook.
func Default() *Playbook {
	reqs := progress.DefaultRequirements()
	pb := &Playbook{Stages: []StageSpec{
		{
			Name:            progress.StagePlanning,
			RequiredFiles:   reqs[progress.StagePlanning],
			Recommendations: []string{"research_and_plan", "create_file"},
		},
		{
			Name:            progress.StageImplementation,
			RequiredFiles:   reqs[progress.StageImplementation],
			Recommendations: []string{"implement_initial_prototype", "generate_code", "edit_file"},
		},
		{
			Name:            progress.StageTesting,
			RequiredFiles:   reqs[progress.StageTesting],
			Recommendations: []string{"write_tests", "run_code", "analyze_code"},
		},
		{
			Name:            progress.StageReview,
			RequiredFiles:   reqs[progress.StageReview],
			Recommendations: []string{"code_analysis", "project_retrospective"},
		},
	}}
	pb.index()
	return pb
}

// Parse decodes a playbook from YAML. Only stages from the closed stage set
// are accepted, each at most once; stages left out have no requirements and
// no recommendations.
func Parse(data []byte) (*Playbook, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("playbook: payload is empty")
	}
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("playbook: decode: %w", err)
	}
	seen := make(map[progress.Stage]bool, len(pb.Stages))
	for _, st := range pb.Stages {
		if !st.Name.Known() {
			return nil, fmt.Errorf("playbook: unknown stage %q", st.Name)
		}
		if seen[st.Name] {
			return nil, fmt.Errorf("playbook: stage %q defined twice", st.Name)
		}
		seen[st.Name] = true
	}
	pb.index()
	return &pb, nil
}

// LoadFile reads a YAML playbook from path.
func LoadFile(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playbook: read %s: %w", path, err)
	}
	pb, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("playbook: %s: %w", path, err)
	}
	return pb, nil
}

// Requirements returns the stage requirement table.
func (p *Playbook) Requirements() progress.Requirements {
	reqs := make(progress.Requirements, len(p.Stages))
	for _, st := range p.Stages {
		reqs[st.Name] = append([]string(nil), st.RequiredFiles...)
	}
	return reqs
}

// Recommendations returns the ordered actions for stage; empty for a stage
// the playbook doesn't define.
func (p *Playbook) Recommendations(stage progress.Stage) []string {
	st, ok := p.byName[stage]
	if !ok {
		return []string{}
	}
	return append([]string{}, st.Recommendations...)
}

func (p *Playbook) index() {
	p.byName = make(map[progress.Stage]StageSpec, len(p.Stages))
	for _, st := range p.Stages {
		p.byName[st.Name] = st
	}
}
