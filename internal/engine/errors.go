package engine

import (
	"fmt"
	"strings"

	"github.com/stackform-io/stackform/internal/model"
)

// DanglingDependencyError reports a planned destroy whose resource is still
// referenced by a resource remaining in the model. It is fatal and surfaced
// before any provider call.
type DanglingDependencyError struct {
	Resource   model.ResourceID
	Dependents []model.ResourceID
}

func (e *DanglingDependencyError) Error() string {
	deps := make([]string, len(e.Dependents))
	for i, d := range e.Dependents {
		deps[i] = d.String()
	}
	return fmt.Sprintf("cannot destroy %s: still referenced by %s",
		e.Resource, strings.Join(deps, ", "))
}

// StepError wraps a provider failure with the resource and action it hit, so
// every user-visible failure names what was being attempted.
type StepError struct {
	Resource model.ResourceID
	Action   Action
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Action, e.Resource, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// PartialFailure is the result of a run that committed some steps and then
// stopped, either on a fatal step error or on cancellation. Committed steps
// stay committed; re-planning against the persisted state resumes the rest.
type PartialFailure struct {
	Completed []model.ResourceID
	Failed    *StepError
	Cancelled bool
}

func (e *PartialFailure) Error() string {
	if e.Cancelled && e.Failed == nil {
		return fmt.Sprintf("apply cancelled after %d committed step(s)", len(e.Completed))
	}
	return fmt.Sprintf("apply stopped after %d committed step(s): %v", len(e.Completed), e.Failed)
}

func (e *PartialFailure) Unwrap() error {
	if e.Failed == nil {
		return nil
	}
	return e.Failed
}
