// Package sessions stores in-flight discovery wizard sessions. Sessions are
// ephemeral and expire after a TTL; saved outputs live in the relational store.
package sessions

import (
	"context"
	"errors"

	"ventureline/internal/wizard"
)

var (
	ErrNotFound = errors.New("wizard session not found")
	// ErrConflict is returned by Update when the session changed concurrently.
	ErrConflict = errors.New("wizard session was modified concurrently")
)

type Store interface {
	Create(ctx context.Context, s *wizard.Session) error
	Get(ctx context.Context, id string) (*wizard.Session, error)
	// Update loads the session, applies fn and writes the result back only if fn
	// succeeds and nobody else wrote the session in between. It never retries fn.
	Update(ctx context.Context, id string, fn func(*wizard.Session) error) (*wizard.Session, error)
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*wizard.Session, error)
}
