// Package gate decides whether a step may be entered based on the completion of
// its predecessor.
package gate

import (
	"context"
	"errors"
	"fmt"

	"ventureline/internal/domain"
	"ventureline/internal/repo"
	"ventureline/internal/steps"
)

// StateReader reads one step state; repo.ErrNotFound means the step was never written.
type StateReader interface {
	GetStepState(ctx context.Context, projectID, stepKey string) (domain.StepState, error)
}

// Decision is the outcome of a gate check.
type Decision struct {
	StepKey           string `json:"step_key"`
	Allowed           bool   `json:"allowed"`
	BlockingStepKey   string `json:"blocking_step_key,omitempty"`
	BlockingStepTitle string `json:"blocking_step_title,omitempty"`
	// FailedOpen is set when the predecessor could not be read and the caller chose
	// to allow entry anyway.
	FailedOpen bool `json:"failed_open,omitempty"`
}

// Err returns a *LockedStepError for a denied decision and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LockedStepError{StepKey: d.StepKey, BlockingStepKey: d.BlockingStepKey, BlockingStepTitle: d.BlockingStepTitle}
}

// LockedStepError names the incomplete step that blocks entry.
type LockedStepError struct {
	StepKey           string
	BlockingStepKey   string
	BlockingStepTitle string
}

func (e *LockedStepError) Error() string {
	return fmt.Sprintf("step %s is locked: complete %q (%s) first", e.StepKey, e.BlockingStepTitle, e.BlockingStepKey)
}

// ReadError wraps a storage failure while reading the predecessor state.
type ReadError struct {
	StepKey string
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read state of %s: %v", e.StepKey, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

type Gate struct {
	Registry *steps.Registry
	States   StateReader
}

// CanEnter checks the predecessor of key. The first step is always allowed and
// performs no read. A storage failure is returned as *ReadError so the caller picks
// the policy; see FailOpen.
func (g Gate) CanEnter(ctx context.Context, projectID, key string) (Decision, error) {
	def, ok := g.Registry.Get(key)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", steps.ErrUnknownStep, key)
	}
	if def.Ordinal == 0 {
		return Decision{StepKey: key, Allowed: true}, nil
	}
	prev, _ := g.Registry.At(def.Ordinal - 1)
	st, err := g.States.GetStepState(ctx, projectID, prev.Key)
	if errors.Is(err, repo.ErrNotFound) {
		return Decide(def, prev, nil), nil
	}
	if err != nil {
		return Decision{}, &ReadError{StepKey: prev.Key, Err: err}
	}
	return Decide(def, prev, &st), nil
}

// Decide is the pure gate rule: def is allowed iff it is the first step or prev
// is completed. A nil prevState means the predecessor was never written.
func Decide(def, prev domain.StepDefinition, prevState *domain.StepState) Decision {
	if def.Ordinal == 0 {
		return Decision{StepKey: def.Key, Allowed: true}
	}
	if prevState != nil && prevState.Status == domain.StepCompleted {
		return Decision{StepKey: def.Key, Allowed: true}
	}
	return Decision{
		StepKey:           def.Key,
		Allowed:           false,
		BlockingStepKey:   prev.Key,
		BlockingStepTitle: prev.Title,
	}
}

// DecideAll evaluates every step of reg against a snapshot of states keyed by step.
func DecideAll(reg *steps.Registry, states map[string]domain.StepState) []Decision {
	defs := reg.All()
	out := make([]Decision, 0, len(defs))
	for i, def := range defs {
		if i == 0 {
			out = append(out, Decide(def, domain.StepDefinition{}, nil))
			continue
		}
		prev := defs[i-1]
		var ps *domain.StepState
		if st, ok := states[prev.Key]; ok {
			ps = &st
		}
		out = append(out, Decide(def, prev, ps))
	}
	return out
}

// FailOpen applies the availability-first policy: a storage failure while reading
// the predecessor allows entry and marks the decision FailedOpen. Other errors,
// such as an unknown step, are returned unchanged.
func FailOpen(key string, d Decision, err error) (Decision, error) {
	if err == nil {
		return d, nil
	}
	var re *ReadError
	if errors.As(err, &re) {
		return Decision{StepKey: key, Allowed: true, FailedOpen: true}, nil
	}
	return d, err
}

// FailOpenAll is FailOpen for a whole project listing.
func FailOpenAll(reg *steps.Registry) []Decision {
	defs := reg.All()
	out := make([]Decision, 0, len(defs))
	for _, def := range defs {
		out = append(out, Decision{StepKey: def.Key, Allowed: true, FailedOpen: def.Ordinal > 0})
	}
	return out
}
