// Package errors provides the error kinds surfaced by the guide engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrInvalidStage     = errors.New("invalid stage")
	ErrTransitionDenied = errors.New("stage transition denied")
	ErrPersist          = errors.New("persistence failure")
	ErrNotFound         = errors.New("project not found")
)

// GuideError wraps any failure raised by a mutating guide operation.
// Op names the operation ("update_progress", "save_progress", ...).
type GuideError struct {
	Op      string
	Project string
	Err     error
}

func (e *GuideError) Error() string {
	if e.Project != "" {
		return fmt.Sprintf("guide: %s %q: %v", e.Op, e.Project, e.Err)
	}
	return fmt.Sprintf("guide: %s: %v", e.Op, e.Err)
}

func (e *GuideError) Unwrap() error { return e.Err }

// Wrap returns err wrapped in a GuideError. Returns nil for a nil err. An
// existing GuideError keeps its op so the innermost op is reported; an empty
// Project on it is filled from project.
func Wrap(op, project string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GuideError
	if errors.As(err, &ge) {
		if ge.Project == "" {
			ge.Project = project
		}
		return err
	}
	return &GuideError{Op: op, Project: project, Err: err}
}

// IsGuideError reports whether err carries a GuideError.
func IsGuideError(err error) bool {
	var ge *GuideError
	return errors.As(err, &ge)
}

// Is, As and New re-export the standard helpers so callers importing this
// package under its own name don't need a second errors import.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)
