package engine

import (
	"context"
	"errors"

	"ventureline/internal/config"
	"ventureline/internal/domain"
	"ventureline/internal/engine/auth"
	"ventureline/internal/events"
	"ventureline/internal/repo"
	"ventureline/internal/sessions"
	"ventureline/internal/wizard"
)

// artifacts adapts the repo to wizard.ArtifactStore. A second save for the same
// session resolves to the output already stored.
type artifacts struct {
	e Engine
}

func (a artifacts) SaveDiscoveryOutput(ctx context.Context, out domain.DiscoveryOutput) (string, error) {
	err := a.e.Repo.InsertDiscoveryOutput(ctx, out)
	if errors.Is(err, repo.ErrDuplicateDiscovery) {
		existing, gerr := a.e.Repo.GetDiscoveryOutputBySession(ctx, out.SessionID)
		if gerr != nil {
			return "", persist("save discovery", gerr)
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", persist("save discovery", err)
	}
	payload := events.EventPayload{
		"session_id":    out.SessionID,
		"business_area": out.BusinessArea.Title,
		"solution":      out.Solution.Title,
	}
	if aerr := a.e.eventLog().Append(ctx, nil, events.DiscoverySaved, out.ProjectID, "discovery", out.ID, out.OwnerID, payload); aerr != nil {
		a.e.logf("record discovery event id=%s err=%v", out.ID, aerr)
	}
	return out.ID, nil
}

func (e Engine) wizard() wizard.Engine {
	n := config.DefaultCandidates
	if e.Config != nil && e.Config.Wizard.Candidates > 0 {
		n = e.Config.Wizard.Candidates
	}
	return wizard.Engine{
		Generator:  e.Generator,
		Store:      artifacts{e: e},
		Candidates: n,
		Now:        e.Now,
	}
}

func (e Engine) sessionStore() (sessions.Store, error) {
	if e.Sessions == nil {
		return nil, errors.New("wizard session store not configured")
	}
	return e.Sessions, nil
}

// StartDiscovery opens a new wizard session, optionally attached to a project.
func (e Engine) StartDiscovery(ctx context.Context, ownerID, projectID string) (*wizard.Session, error) {
	store, err := e.sessionStore()
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, errors.New("owner is required")
	}
	if projectID != "" {
		if _, err := e.Auth.ProjectAccess(ctx, projectID, ownerID); err != nil {
			return nil, err
		}
	}
	s := e.wizard().Start(ownerID, projectID)
	if err := store.Create(ctx, s); err != nil {
		return nil, persist("start discovery", err)
	}
	return s, nil
}

func (e Engine) GetDiscovery(ctx context.Context, sessionID, ownerID string) (*wizard.Session, error) {
	store, err := e.sessionStore()
	if err != nil {
		return nil, err
	}
	s, err := store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := auth.Owns("discovery session", s.ID, s.OwnerID, ownerID); err != nil {
		return nil, err
	}
	return s, nil
}

// ListDiscoveries returns the owner's in-flight sessions.
func (e Engine) ListDiscoveries(ctx context.Context, ownerID string) ([]*wizard.Session, error) {
	store, err := e.sessionStore()
	if err != nil {
		return nil, err
	}
	return store.ListByOwner(ctx, ownerID)
}

func (e Engine) updateSession(ctx context.Context, sessionID, ownerID string, fn func(*wizard.Session) error) (*wizard.Session, error) {
	store, err := e.sessionStore()
	if err != nil {
		return nil, err
	}
	return store.Update(ctx, sessionID, func(s *wizard.Session) error {
		if err := auth.Owns("discovery session", s.ID, s.OwnerID, ownerID); err != nil {
			return err
		}
		return fn(s)
	})
}

// DiscoveryAnswer records the answer of the current input stage.
func (e Engine) DiscoveryAnswer(ctx context.Context, sessionID, ownerID, value string) (*wizard.Session, error) {
	w := e.wizard()
	return e.updateSession(ctx, sessionID, ownerID, func(s *wizard.Session) error {
		return w.Answer(s, value)
	})
}

// DiscoveryNext advances one stage. Reaching the summary saves the discovery output;
// if that save fails the session stays on the summary and DiscoveryFinalize retries it.
func (e Engine) DiscoveryNext(ctx context.Context, sessionID, ownerID string) (*wizard.Session, error) {
	w := e.wizard()
	s, err := e.updateSession(ctx, sessionID, ownerID, func(s *wizard.Session) error {
		return w.Next(s)
	})
	if err != nil {
		return nil, err
	}
	return e.finalizeOnSummary(ctx, s, ownerID)
}

// finalizeOnSummary saves the output once s has reached the summary stage.
func (e Engine) finalizeOnSummary(ctx context.Context, s *wizard.Session, ownerID string) (*wizard.Session, error) {
	if s.Stage != wizard.StageSummary || s.Saved {
		return s, nil
	}
	if _, err := e.DiscoveryFinalize(ctx, s.ID, ownerID); err != nil {
		return s, err
	}
	return e.GetDiscovery(ctx, s.ID, ownerID)
}

func (e Engine) DiscoverySkip(ctx context.Context, sessionID, ownerID string) (*wizard.Session, error) {
	w := e.wizard()
	return e.updateSession(ctx, sessionID, ownerID, func(s *wizard.Session) error {
		return w.Skip(s)
	})
}

func (e Engine) DiscoveryPrevious(ctx context.Context, sessionID, ownerID string) (*wizard.Session, error) {
	w := e.wizard()
	return e.updateSession(ctx, sessionID, ownerID, func(s *wizard.Session) error {
		return w.Previous(s)
	})
}

// DiscoveryGenerate requests candidates for the current selection stage. A failed
// generation leaves the stored session untouched.
func (e Engine) DiscoveryGenerate(ctx context.Context, sessionID, ownerID string) ([]domain.Candidate, *wizard.Session, error) {
	w := e.wizard()
	var cands []domain.Candidate
	s, err := e.updateSession(ctx, sessionID, ownerID, func(s *wizard.Session) error {
		var err error
		cands, err = w.Generate(ctx, s)
		return err
	})
	if err != nil {
		e.logf("discovery generation failed session=%s err=%v", sessionID, err)
		return nil, nil, err
	}
	return cands, s, nil
}

// DiscoveryChoose confirms one of the pending candidates and advances. The last
// choice leads to the summary and saves the output like DiscoveryNext.
func (e Engine) DiscoveryChoose(ctx context.Context, sessionID, ownerID, candidateID string) (*wizard.Session, error) {
	w := e.wizard()
	s, err := e.updateSession(ctx, sessionID, ownerID, func(s *wizard.Session) error {
		_, err := w.Choose(s, candidateID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.finalizeOnSummary(ctx, s, ownerID)
}

// DiscoveryFinalize saves the session's output once; repeated calls return the same
// output.
func (e Engine) DiscoveryFinalize(ctx context.Context, sessionID, ownerID string) (domain.DiscoveryOutput, error) {
	w := e.wizard()
	var out domain.DiscoveryOutput
	_, err := e.updateSession(ctx, sessionID, ownerID, func(s *wizard.Session) error {
		var err error
		out, err = w.Finalize(ctx, s)
		return err
	})
	if err != nil {
		return domain.DiscoveryOutput{}, err
	}
	return out, nil
}

// ListDiscoveryOutputs returns the owner's saved outputs, optionally for one project.
func (e Engine) ListDiscoveryOutputs(ctx context.Context, ownerID, projectID string) ([]domain.DiscoveryOutput, error) {
	list, err := e.Repo.ListDiscoveryOutputs(ctx, ownerID)
	if err != nil || projectID == "" {
		return list, err
	}
	var out []domain.DiscoveryOutput
	for _, o := range list {
		if o.ProjectID == projectID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (e Engine) GetDiscoveryOutput(ctx context.Context, id, ownerID string) (domain.DiscoveryOutput, error) {
	out, err := e.Repo.GetDiscoveryOutput(ctx, id)
	if err != nil {
		return domain.DiscoveryOutput{}, err
	}
	if err := auth.Owns("discovery output", out.ID, out.OwnerID, ownerID); err != nil {
		return domain.DiscoveryOutput{}, err
	}
	return out, nil
}
