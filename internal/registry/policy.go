package registry

import (
	"fmt"
	"strings"

	gerrors "github.com/p-blackswan/guide-engine/internal/errors"
	"github.com/p-blackswan/guide-engine/internal/progress"
)

// TransitionPolicy decides which stage changes the recording path accepts.
type TransitionPolicy string

const (
	// PolicyAny accepts every stage value, known or not.
	PolicyAny TransitionPolicy = "any"
	// PolicyKnown accepts any move between stages of the closed set.
	PolicyKnown TransitionPolicy = "known"
	// PolicyForward accepts known stages that don't move backwards.
	PolicyForward TransitionPolicy = "forward"
)

// ParsePolicy converts a config value into a TransitionPolicy. Empty means
// PolicyAny.
func ParsePolicy(raw string) (TransitionPolicy, error) {
	switch p := TransitionPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyAny, nil
	case PolicyAny, PolicyKnown, PolicyForward:
		return p, nil
	default:
		return "", fmt.Errorf("unknown transition policy %q (want any, known or forward)", raw)
	}
}

// Check returns nil when moving from → to is allowed.
func (p TransitionPolicy) Check(from, to progress.Stage) error {
	if from == to || p == PolicyAny || p == "" {
		return nil
	}
	if !to.Known() {
		return fmt.Errorf("%w: %q", gerrors.ErrInvalidStage, to)
	}
	if p == PolicyForward && from.Known() && to.Index() < from.Index() {
		return fmt.Errorf("%w: %s -> %s moves backwards", gerrors.ErrTransitionDenied, from, to)
	}
	return nil
}
