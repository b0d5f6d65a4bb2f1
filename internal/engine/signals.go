package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ventureline/internal/domain"
	"ventureline/internal/events"
)

// addSignal runs write in a transaction that also bumps the project's updated_at and
// records a signal.added event.
func (e Engine) addSignal(ctx context.Context, projectID, actorID, kind, id string, write func(tx *sql.Tx) error) error {
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return err
	}
	op := "add " + kind
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return persist(op, err)
	}
	defer tx.Rollback()
	if err := write(tx); err != nil {
		return persist(op, err)
	}
	if err := e.Repo.TouchProject(ctx, tx, projectID, e.nowString()); err != nil {
		return persist(op, err)
	}
	if err := e.eventLog().Append(ctx, tx, events.SignalAdded, projectID, kind, id, actorID, events.EventPayload{"kind": kind}); err != nil {
		return persist(op, err)
	}
	return persist(op, tx.Commit())
}

func (e Engine) optionalStep(key string) error {
	if key == "" {
		return nil
	}
	_, _, err := e.stepDef(key)
	return err
}

func (e Engine) AddNote(ctx context.Context, projectID, stepKey, body, actorID string) (domain.Note, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Note{}, errors.New("note body is required")
	}
	if err := e.optionalStep(stepKey); err != nil {
		return domain.Note{}, err
	}
	createdBy := actorID
	if createdBy == "" {
		createdBy = "local-user"
	}
	n := domain.Note{ID: uuid.NewString(), ProjectID: projectID, StepKey: stepKey, Body: body, CreatedBy: createdBy, CreatedAt: e.nowString()}
	err := e.addSignal(ctx, projectID, actorID, "note", n.ID, func(tx *sql.Tx) error {
		return e.Repo.InsertNote(ctx, tx, n)
	})
	if err != nil {
		return domain.Note{}, err
	}
	return n, nil
}

func (e Engine) ListNotes(ctx context.Context, projectID, actorID string) ([]domain.Note, error) {
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListNotes(ctx, projectID)
}

// AddTag tags a project. Tag names are case-insensitive and stored lower-case.
func (e Engine) AddTag(ctx context.Context, projectID, name, actorID string) (domain.Tag, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return domain.Tag{}, errors.New("tag name is required")
	}
	t := domain.Tag{ProjectID: projectID, Name: name, CreatedAt: e.nowString()}
	err := e.addSignal(ctx, projectID, actorID, "tag", name, func(tx *sql.Tx) error {
		return e.Repo.InsertTag(ctx, tx, t)
	})
	if err != nil {
		return domain.Tag{}, err
	}
	return t, nil
}

func (e Engine) ListTags(ctx context.Context, projectID, actorID string) ([]domain.Tag, error) {
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListTags(ctx, projectID)
}

// LinkTool records that the output of an external tool belongs to the project and,
// optionally, to one of its steps.
func (e Engine) LinkTool(ctx context.Context, projectID, stepKey, tool, outputRef, actorID string) (domain.LinkedTool, error) {
	tool, outputRef = strings.TrimSpace(tool), strings.TrimSpace(outputRef)
	if tool == "" || outputRef == "" {
		return domain.LinkedTool{}, errors.New("tool and output reference are required")
	}
	if err := e.optionalStep(stepKey); err != nil {
		return domain.LinkedTool{}, err
	}
	l := domain.LinkedTool{ID: uuid.NewString(), ProjectID: projectID, StepKey: stepKey, Tool: tool, OutputRef: outputRef, CreatedAt: e.nowString()}
	err := e.addSignal(ctx, projectID, actorID, "linked_tool", l.ID, func(tx *sql.Tx) error {
		return e.Repo.InsertLinkedTool(ctx, tx, l)
	})
	if err != nil {
		return domain.LinkedTool{}, err
	}
	return l, nil
}

func (e Engine) ListLinkedTools(ctx context.Context, projectID, stepKey, actorID string) ([]domain.LinkedTool, error) {
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListLinkedTools(ctx, projectID, stepKey)
}

// AddInterview logs a validation interview. heldAt defaults to now.
func (e Engine) AddInterview(ctx context.Context, projectID, interviewee, summary, heldAt, actorID string) (domain.Interview, error) {
	interviewee = strings.TrimSpace(interviewee)
	if interviewee == "" {
		return domain.Interview{}, errors.New("interviewee is required")
	}
	now := e.nowString()
	if heldAt == "" {
		heldAt = now
	} else if _, err := time.Parse(time.RFC3339, heldAt); err != nil {
		return domain.Interview{}, fmt.Errorf("invalid held_at %q: expected RFC3339", heldAt)
	}
	iv := domain.Interview{ID: uuid.NewString(), ProjectID: projectID, Interviewee: interviewee, Summary: strings.TrimSpace(summary), HeldAt: heldAt, CreatedAt: now}
	err := e.addSignal(ctx, projectID, actorID, "interview", iv.ID, func(tx *sql.Tx) error {
		return e.Repo.InsertInterview(ctx, tx, iv)
	})
	if err != nil {
		return domain.Interview{}, err
	}
	return iv, nil
}

func (e Engine) ListInterviews(ctx context.Context, projectID, actorID string) ([]domain.Interview, error) {
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListInterviews(ctx, projectID)
}

func (e Engine) AddAssumption(ctx context.Context, projectID, statement, actorID string) (domain.Assumption, error) {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return domain.Assumption{}, errors.New("statement is required")
	}
	now := e.nowString()
	a := domain.Assumption{ID: uuid.NewString(), ProjectID: projectID, Statement: statement, CreatedAt: now, UpdatedAt: now}
	err := e.addSignal(ctx, projectID, actorID, "assumption", a.ID, func(tx *sql.Tx) error {
		return e.Repo.InsertAssumption(ctx, tx, a)
	})
	if err != nil {
		return domain.Assumption{}, err
	}
	return a, nil
}

// SetAssumptionValidated marks an assumption as validated or not.
func (e Engine) SetAssumptionValidated(ctx context.Context, projectID, id string, validated bool, actorID string) (domain.Assumption, error) {
	var a domain.Assumption
	err := e.addSignal(ctx, projectID, actorID, "assumption", id, func(tx *sql.Tx) error {
		var err error
		a, err = e.Repo.SetAssumptionValidated(ctx, tx, projectID, id, validated, e.nowString())
		return err
	})
	if err != nil {
		return domain.Assumption{}, err
	}
	return a, nil
}

func (e Engine) ListAssumptions(ctx context.Context, projectID, actorID string) ([]domain.Assumption, error) {
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListAssumptions(ctx, projectID)
}

