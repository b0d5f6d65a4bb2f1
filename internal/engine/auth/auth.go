// Package auth checks that an actor may act on a project or discovery session.
// Identity itself comes from the hosted auth provider; only ownership is checked here.
package auth

import (
	"context"
	"fmt"

	"ventureline/internal/domain"
	"ventureline/internal/repo"
)

// ForbiddenError indicates the actor does not own the resource.
type ForbiddenError struct {
	Kind    string
	ID      string
	ActorID string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s may not access %s %s", e.ActorID, e.Kind, e.ID)
}

// Service provides ownership checks backed by the project store.
type Service struct {
	Repo repo.Repo
}

// ProjectAccess returns the project when actorID owns it. An empty actor is the
// local CLI user and may access every project in the workspace.
func (s Service) ProjectAccess(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	p, err := s.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if err := Owns("project", p.ID, p.OwnerID, actorID); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// Owns returns ForbiddenError unless actorID is ownerID or the local user.
func Owns(kind, id, ownerID, actorID string) error {
	if actorID == "" || actorID == ownerID {
		return nil
	}
	return ForbiddenError{Kind: kind, ID: id, ActorID: actorID}
}
