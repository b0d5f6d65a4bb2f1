package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ventureline/internal/domain"
	"ventureline/internal/events"
	"ventureline/internal/gate"
	"ventureline/internal/generator"
	"ventureline/internal/repo"
	"ventureline/internal/steps"
)

// StepView is a step definition together with the project's state for it and the
// gate decision for entering it.
type StepView struct {
	Definition    domain.StepDefinition `json:"definition"`
	State         domain.StepState      `json:"state"`
	Decision      gate.Decision         `json:"decision"`
	MissingInputs []string              `json:"missing_inputs,omitempty"`
}

// MissingInputsError is returned when a step cannot complete because required
// inputs are absent or blank.
type MissingInputsError struct {
	StepKey string
	Fields  []string
}

func (e *MissingInputsError) Error() string {
	return fmt.Sprintf("step %s is missing required inputs: %s", e.StepKey, strings.Join(e.Fields, ", "))
}

func emptyState(projectID, key string) domain.StepState {
	return domain.StepState{ProjectID: projectID, StepKey: key, Status: domain.StepNotStarted}
}

func (e Engine) stepDef(key string) (*steps.Registry, domain.StepDefinition, error) {
	reg, err := e.registry()
	if err != nil {
		return nil, domain.StepDefinition{}, err
	}
	def, ok := reg.Get(key)
	if !ok {
		return nil, domain.StepDefinition{}, fmt.Errorf("%w: %s", steps.ErrUnknownStep, key)
	}
	return reg, def, nil
}

// checkGate evaluates entry to key with the fail-open policy. A locked step returns
// *gate.LockedStepError alongside the decision.
func (e Engine) checkGate(ctx context.Context, reg *steps.Registry, projectID, key, actorID string) (gate.Decision, error) {
	g := gate.Gate{Registry: reg, States: e.Repo}
	d, err := g.CanEnter(ctx, projectID, key)
	if err != nil {
		var re *gate.ReadError
		if errors.As(err, &re) {
			e.logf("gate failed open project=%s step=%s blocking_read=%s err=%v", projectID, key, re.StepKey, re.Err)
		}
		d, err = gate.FailOpen(key, d, err)
		if err != nil {
			return d, err
		}
		if d.FailedOpen {
			if aerr := e.eventLog().Append(ctx, nil, events.StepGateFailedOpen, projectID, "step", key, actorID, events.EventPayload{"predecessor": re.StepKey}); aerr != nil {
				e.logf("record failed-open event project=%s step=%s err=%v", projectID, key, aerr)
			}
		}
	}
	return d, d.Err()
}

// ListSteps returns every step with its state and lock decision. When states cannot
// be read, steps are listed as not started and unlocked.
func (e Engine) ListSteps(ctx context.Context, projectID, actorID string) ([]StepView, error) {
	reg, err := e.registry()
	if err != nil {
		return nil, err
	}
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return nil, err
	}
	byKey := map[string]domain.StepState{}
	var decisions []gate.Decision
	list, err := e.Repo.ListStepStates(ctx, projectID)
	if err != nil {
		e.logf("list steps degraded project=%s err=%v", projectID, err)
		decisions = gate.FailOpenAll(reg)
	} else {
		for _, st := range list {
			byKey[st.StepKey] = st
		}
		decisions = gate.DecideAll(reg, byKey)
	}
	views := make([]StepView, 0, reg.Len())
	for i, def := range reg.All() {
		st, ok := byKey[def.Key]
		if !ok {
			st = emptyState(projectID, def.Key)
		}
		views = append(views, StepView{
			Definition:    def,
			State:         st,
			Decision:      decisions[i],
			MissingInputs: steps.MissingInputs(def, st.Inputs),
		})
	}
	return views, nil
}

// EnterStep opens a step for work. A locked step returns the view with its decision
// and a *gate.LockedStepError naming the blocking step.
func (e Engine) EnterStep(ctx context.Context, projectID, key, actorID string) (StepView, error) {
	reg, def, err := e.stepDef(key)
	if err != nil {
		return StepView{}, err
	}
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return StepView{}, err
	}
	view := StepView{Definition: def, State: emptyState(projectID, key)}
	view.Decision, err = e.checkGate(ctx, reg, projectID, key, actorID)
	if err != nil {
		return view, err
	}
	st, err := e.Repo.GetStepState(ctx, projectID, key)
	switch {
	case err == nil:
		view.State = st
	case errors.Is(err, repo.ErrNotFound):
	default:
		e.logf("read step state degraded project=%s step=%s err=%v", projectID, key, err)
	}
	view.MissingInputs = steps.MissingInputs(def, view.State.Inputs)
	return view, nil
}

// StepSaveOptions are parameters for auto-saving step inputs.
type StepSaveOptions struct {
	ProjectID string
	StepKey   string
	Inputs    map[string]any
	// UpdatedAt is the client time of the edit (RFC3339). Empty means now.
	UpdatedAt string
	ActorID   string
}

// SaveStepInputs stores inputs with last-write-wins semantics. Writes older than the
// stored state fail with repo.ErrStaleWrite. A not started step moves to in
// progress; a completed step whose new inputs drop a required field is reopened.
func (e Engine) SaveStepInputs(ctx context.Context, opts StepSaveOptions) (domain.StepState, error) {
	reg, def, err := e.stepDef(opts.StepKey)
	if err != nil {
		return domain.StepState{}, err
	}
	if opts.Inputs == nil {
		return domain.StepState{}, errors.New("inputs are required")
	}
	if _, err := e.Auth.ProjectAccess(ctx, opts.ProjectID, opts.ActorID); err != nil {
		return domain.StepState{}, err
	}
	if _, err := e.checkGate(ctx, reg, opts.ProjectID, opts.StepKey, opts.ActorID); err != nil {
		return domain.StepState{}, err
	}
	ts, err := e.writeTime(opts.UpdatedAt)
	if err != nil {
		return domain.StepState{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StepState{}, persist("save inputs", err)
	}
	defer tx.Rollback()
	current, err := e.Repo.GetStepStateTx(ctx, tx, opts.ProjectID, opts.StepKey)
	if errors.Is(err, repo.ErrNotFound) {
		current = emptyState(opts.ProjectID, opts.StepKey)
	} else if err != nil {
		return domain.StepState{}, persist("save inputs", err)
	}

	patch := domain.StepStatePatch{Inputs: opts.Inputs, UpdatedAt: ts}
	evt := events.StepInputsSaved
	switch current.Status {
	case domain.StepCompleted:
		if missing := steps.MissingInputs(def, opts.Inputs); len(missing) > 0 {
			status := domain.StepInProgress
			patch.Status = &status
			evt = events.StepReopened
		}
	default:
		status := domain.StepInProgress
		patch.Status = &status
	}
	st, err := e.Repo.PutStepStateTx(ctx, tx, opts.ProjectID, opts.StepKey, patch)
	if err != nil {
		return domain.StepState{}, persist("save inputs", err)
	}
	if err := e.Repo.TouchProject(ctx, tx, opts.ProjectID, e.nowString()); err != nil {
		return domain.StepState{}, persist("save inputs", err)
	}
	if err := e.eventLog().Append(ctx, tx, evt, opts.ProjectID, "step", opts.StepKey, opts.ActorID, events.EventPayload{"status": st.Status, "fields": len(opts.Inputs)}); err != nil {
		return domain.StepState{}, persist("save inputs", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.StepState{}, persist("save inputs", err)
	}
	return st, nil
}

// StepCompleteOptions are parameters for completing a step.
type StepCompleteOptions struct {
	ProjectID string
	StepKey   string
	// Inputs replaces the stored inputs when set; nil keeps them.
	Inputs    map[string]any
	Output    json.RawMessage
	UpdatedAt string
	// ExpectUpdatedAt, when set, makes the write conditional: the stored row must
	// still carry this updated_at ("" means no row yet) or the write fails with
	// repo.ErrStaleWrite.
	ExpectUpdatedAt *string
	ActorID         string
}

// CompleteStep writes inputs, generated output and the completed status together.
func (e Engine) CompleteStep(ctx context.Context, opts StepCompleteOptions) (domain.StepState, error) {
	reg, def, err := e.stepDef(opts.StepKey)
	if err != nil {
		return domain.StepState{}, err
	}
	if !json.Valid(opts.Output) || strings.TrimSpace(string(opts.Output)) == "null" {
		return domain.StepState{}, repo.ErrCompletionWithoutOutput
	}
	if _, err := e.Auth.ProjectAccess(ctx, opts.ProjectID, opts.ActorID); err != nil {
		return domain.StepState{}, err
	}
	if _, err := e.checkGate(ctx, reg, opts.ProjectID, opts.StepKey, opts.ActorID); err != nil {
		return domain.StepState{}, err
	}
	ts, err := e.writeTime(opts.UpdatedAt)
	if err != nil {
		return domain.StepState{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StepState{}, persist("complete step", err)
	}
	defer tx.Rollback()
	current, err := e.Repo.GetStepStateTx(ctx, tx, opts.ProjectID, opts.StepKey)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.StepState{}, persist("complete step", err)
	}
	if opts.ExpectUpdatedAt != nil && current.UpdatedAt != *opts.ExpectUpdatedAt {
		return current, repo.ErrStaleWrite
	}
	inputs := opts.Inputs
	if inputs == nil {
		inputs = current.Inputs
	}
	if missing := steps.MissingInputs(def, inputs); len(missing) > 0 {
		return domain.StepState{}, &MissingInputsError{StepKey: def.Key, Fields: missing}
	}
	status := domain.StepCompleted
	st, err := e.Repo.PutStepStateTx(ctx, tx, opts.ProjectID, opts.StepKey, domain.StepStatePatch{
		Status:          &status,
		Inputs:          inputs,
		GeneratedOutput: opts.Output,
		UpdatedAt:       ts,
	})
	if err != nil {
		return domain.StepState{}, persist("complete step", err)
	}
	if err := e.Repo.TouchProject(ctx, tx, opts.ProjectID, e.nowString()); err != nil {
		return domain.StepState{}, persist("complete step", err)
	}
	if err := e.eventLog().Append(ctx, tx, events.StepCompleted, opts.ProjectID, "step", opts.StepKey, opts.ActorID, events.EventPayload{"ordinal": def.Ordinal}); err != nil {
		return domain.StepState{}, persist("complete step", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.StepState{}, persist("complete step", err)
	}
	return st, nil
}

// GenerateStep asks the generator for the step's output from its saved inputs and
// completes the step with it. A generation failure writes nothing; it is never
// retried automatically. If the inputs were saved again while the generator ran, the
// output is discarded with repo.ErrStaleWrite so the newer inputs survive.
func (e Engine) GenerateStep(ctx context.Context, projectID, key, actorID string) (domain.StepState, error) {
	reg, def, err := e.stepDef(key)
	if err != nil {
		return domain.StepState{}, err
	}
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return domain.StepState{}, err
	}
	if _, err := e.checkGate(ctx, reg, projectID, key, actorID); err != nil {
		return domain.StepState{}, err
	}
	current, err := e.Repo.GetStepState(ctx, projectID, key)
	if errors.Is(err, repo.ErrNotFound) {
		current = emptyState(projectID, key)
	} else if err != nil {
		return domain.StepState{}, persist("generate step", err)
	}
	seen := current.UpdatedAt
	if missing := steps.MissingInputs(def, current.Inputs); len(missing) > 0 {
		return domain.StepState{}, &MissingInputsError{StepKey: key, Fields: missing}
	}
	if e.Generator == nil {
		return domain.StepState{}, &generator.GenerationError{Kind: generator.KindStep, Reason: "no generator configured"}
	}
	out, err := generator.StepOutput(ctx, e.Generator, key, current.Inputs)
	if err != nil {
		e.logf("step generation failed project=%s step=%s err=%v", projectID, key, err)
		return domain.StepState{}, err
	}
	st, err := e.CompleteStep(ctx, StepCompleteOptions{
		ProjectID:       projectID,
		StepKey:         key,
		Output:          out,
		ExpectUpdatedAt: &seen,
		ActorID:         actorID,
	})
	if errors.Is(err, repo.ErrStaleWrite) {
		e.logf("step generation discarded project=%s step=%s reason=inputs changed", projectID, key)
	}
	return st, err
}

func (e Engine) writeTime(clientTS string) (string, error) {
	if clientTS == "" {
		return e.nowString(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, clientTS)
	if err != nil {
		return "", fmt.Errorf("invalid updated_at %q: expected RFC3339", clientTS)
	}
	return t.UTC().Format(time.RFC3339Nano), nil
}
