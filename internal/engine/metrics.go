package engine

import (
	"context"

	"ventureline/internal/domain"
	"ventureline/internal/progress"
)

// ProgressReport is the completion summary of a project. Degraded lists inputs that
// could not be read and were counted as zero.
type ProgressReport struct {
	ProjectID string `json:"project_id"`
	progress.Progress
	Degraded []string `json:"degraded,omitempty"`
}

// HealthReport is the health score of a project with its sub-scores.
type HealthReport struct {
	ProjectID string            `json:"project_id"`
	Health    progress.Health   `json:"health"`
	Progress  progress.Progress `json:"progress"`
	Degraded  []string          `json:"degraded,omitempty"`
}

// Snapshot gathers the health inputs of a project. Each input that fails to load is
// logged, left at zero and named in the returned list; Snapshot itself does not fail
// once the project is readable.
func (e Engine) Snapshot(ctx context.Context, projectID, actorID string) (domain.ProjectSnapshot, []string, error) {
	reg, err := e.registry()
	if err != nil {
		return domain.ProjectSnapshot{}, nil, err
	}
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return domain.ProjectSnapshot{}, nil, err
	}
	snap := domain.ProjectSnapshot{ProjectID: projectID, TotalSteps: reg.Len()}
	var degraded []string

	states, err := e.Repo.ListStepStates(ctx, projectID)
	if err != nil {
		e.logf("snapshot degraded project=%s input=step_states err=%v", projectID, err)
		degraded = append(degraded, "step_states")
	}
	for _, st := range states {
		if _, ok := reg.Get(st.StepKey); ok {
			snap.StepStates = append(snap.StepStates, st)
		}
	}

	counts, err := e.Repo.CountSignals(ctx, projectID)
	if err != nil {
		e.logf("snapshot degraded project=%s input=signals err=%v", projectID, err)
		degraded = append(degraded, "signals")
	} else {
		snap.LinkedToolCount = counts.LinkedTools
		snap.NoteCount = counts.Notes
		snap.HasDescription = counts.HasDescription
		snap.TagCount = counts.Tags
		snap.InterviewCount = counts.Interviews
		snap.AssumptionCount = counts.Assumptions
		snap.ValidatedAssumptionCount = counts.ValidatedAssumptions
		snap.LastUpdatedAt = counts.UpdatedAt
	}
	return snap, degraded, nil
}

func (e Engine) Progress(ctx context.Context, projectID, actorID string) (ProgressReport, error) {
	snap, degraded, err := e.Snapshot(ctx, projectID, actorID)
	if err != nil {
		return ProgressReport{}, err
	}
	return ProgressReport{
		ProjectID: projectID,
		Progress:  progress.ComputeProgress(snap.TotalSteps, snap.StepStates),
		Degraded:  degraded,
	}, nil
}

// Health recomputes the health score from a fresh snapshot on every call.
func (e Engine) Health(ctx context.Context, projectID, actorID string) (HealthReport, error) {
	snap, degraded, err := e.Snapshot(ctx, projectID, actorID)
	if err != nil {
		return HealthReport{}, err
	}
	return HealthReport{
		ProjectID: projectID,
		Health:    progress.HealthScore(snap, e.now()),
		Progress:  progress.ComputeProgress(snap.TotalSteps, snap.StepStates),
		Degraded:  degraded,
	}, nil
}
