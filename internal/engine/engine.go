// Package engine is the application service for projects, framework steps, health
// metrics and the discovery wizard. It ties the store, the gate, the aggregator, the
// generator and the event log together.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"ventureline/internal/config"
	"ventureline/internal/domain"
	"ventureline/internal/engine/auth"
	"ventureline/internal/events"
	"ventureline/internal/generator"
	"ventureline/internal/repo"
	"ventureline/internal/sessions"
	"ventureline/internal/steps"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Auth      auth.Service
	Config    *config.Config
	Registry  *steps.Registry
	Generator generator.Generator
	Sessions  sessions.Store
	Logger    *log.Logger
	Now       func() time.Time
}

// New wires an engine over db. The step registry comes from cfg; the generator and
// session store default to the configured HTTP endpoint and an in-memory store.
// Events are stamped with the engine clock unless Events.Now is set.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	r := repo.Repo{DB: db}
	e := Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Auth:   auth.Service{Repo: r},
		Config: cfg,
		Now:    time.Now,
	}
	if cfg != nil {
		reg, err := steps.FromConfig(cfg)
		if err != nil {
			return Engine{}, fmt.Errorf("step catalog: %w", err)
		}
		e.Registry = reg
		e.Generator = generator.NewHTTP(cfg.Generator.BaseURL, cfg.Generator.Timeout)
		e.Sessions = sessions.NewMemoryStore(cfg.Wizard.SessionTTL)
	}
	return e, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// eventLog returns the event writer, falling back to the engine clock.
func (e Engine) eventLog() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func (e Engine) logf(format string, args ...any) {
	l := e.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("engine: "+format, args...)
}

func (e Engine) registry() (*steps.Registry, error) {
	if e.Registry == nil {
		return nil, errors.New("step catalog not loaded")
	}
	return e.Registry, nil
}

// PersistenceError reports a failed write. The caller's input was not stored and
// may be resubmitted unchanged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("save failed (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// persist wraps storage failures from a write path. Errors that describe the
// request itself pass through unchanged.
func persist(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	switch {
	case errors.As(err, &pe),
		errors.Is(err, repo.ErrNotFound),
		errors.Is(err, repo.ErrStaleWrite),
		errors.Is(err, repo.ErrCompletionWithoutOutput),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID          string
	Name        string
	Description string
	Status      string
	OwnerID     string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if opts.OwnerID == "" {
		return domain.Project{}, errors.New("owner is required")
	}
	if opts.Status == "" {
		opts.Status = domain.ProjectDraft
	}
	if !domain.ValidProjectStatus(opts.Status) {
		return domain.Project{}, fmt.Errorf("invalid project status %s", opts.Status)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.nowString()
	p := domain.Project{
		ID:          opts.ID,
		OwnerID:     opts.OwnerID,
		Name:        opts.Name,
		Status:      opts.Status,
		Description: strings.TrimSpace(opts.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, persist("create project", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, persist("create project", fmt.Errorf("insert project: %w", err))
	}
	if err := e.eventLog().Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, p.OwnerID, events.EventPayload{"name": p.Name, "status": p.Status}); err != nil {
		return domain.Project{}, persist("create project", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, persist("create project", err)
	}
	return p, nil
}

// ProjectUpdateOptions lists mutable project fields; nil leaves a field unchanged.
type ProjectUpdateOptions struct {
	ID          string
	ActorID     string
	Name        *string
	Status      *string
	Description *string
}

// UpdateProject changes project metadata. Status is set explicitly and is never
// derived from step completion.
func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.Auth.ProjectAccess(ctx, opts.ID, opts.ActorID)
	if err != nil {
		return domain.Project{}, err
	}
	payload := events.EventPayload{}
	u := repo.ProjectUpdate{UpdatedAt: e.nowString()}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return p, errors.New("name cannot be empty")
		}
		u.Name = &name
		payload["name"] = name
	}
	if opts.Status != nil {
		if !domain.ValidProjectStatus(*opts.Status) {
			return p, fmt.Errorf("invalid project status %s", *opts.Status)
		}
		u.Status = opts.Status
		payload["from"] = p.Status
		payload["status"] = *opts.Status
	}
	if opts.Description != nil {
		desc := strings.TrimSpace(*opts.Description)
		u.Description = &desc
		payload["description"] = desc != ""
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, persist("update project", err)
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, p.ID, u); err != nil {
		return p, persist("update project", err)
	}
	if err := e.eventLog().Append(ctx, tx, events.ProjectUpdated, p.ID, "project", p.ID, opts.ActorID, payload); err != nil {
		return p, persist("update project", err)
	}
	if err := tx.Commit(); err != nil {
		return p, persist("update project", err)
	}
	return e.Repo.GetProject(ctx, p.ID)
}

func (e Engine) GetProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	return e.Auth.ProjectAccess(ctx, projectID, actorID)
}

// ListProjects returns the actor's projects; the local user sees all of them.
func (e Engine) ListProjects(ctx context.Context, actorID string) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, actorID)
}

// DeleteProject removes a project together with its step states and signals.
func (e Engine) DeleteProject(ctx context.Context, projectID, actorID string) error {
	if _, err := e.Auth.ProjectAccess(ctx, projectID, actorID); err != nil {
		return err
	}
	return persist("delete project", e.Repo.DeleteProject(ctx, projectID))
}

// RecentEvents returns the newest events of a project.
func (e Engine) RecentEvents(ctx context.Context, projectID, actorID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.ListEvents(ctx, actorID, repo.EventFilter{ProjectID: projectID}, limit)
}

// ListEvents returns up to limit events matching f, newest first. f.ProjectID is
// required and checked for ownership.
func (e Engine) ListEvents(ctx context.Context, actorID string, f repo.EventFilter, limit int) ([]domain.Event, error) {
	if f.ProjectID == "" {
		return nil, errors.New("project is required")
	}
	if _, err := e.Auth.ProjectAccess(ctx, f.ProjectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, limit, f)
}
