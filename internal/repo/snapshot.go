package repo

import (
	"context"
	"database/sql"
	"errors"
)

// SignalCounts holds the per-project counters the health score reads.
type SignalCounts struct {
	LinkedTools          int
	Notes                int
	Tags                 int
	Interviews           int
	Assumptions          int
	ValidatedAssumptions int
	HasDescription       bool
	UpdatedAt            string
}

// CountSignals reads all health counters of a project in one query.
func (r Repo) CountSignals(ctx context.Context, projectID string) (SignalCounts, error) {
	var c SignalCounts
	var hasDesc int
	err := r.DB.QueryRowContext(ctx, `SELECT
  (SELECT COUNT(*) FROM linked_tools WHERE project_id=p.id),
  (SELECT COUNT(*) FROM notes WHERE project_id=p.id),
  (SELECT COUNT(*) FROM tags WHERE project_id=p.id),
  (SELECT COUNT(*) FROM interviews WHERE project_id=p.id),
  (SELECT COUNT(*) FROM assumptions WHERE project_id=p.id),
  (SELECT COUNT(*) FROM assumptions WHERE project_id=p.id AND validated=1),
  CASE WHEN COALESCE(TRIM(p.description),'')='' THEN 0 ELSE 1 END,
  p.updated_at
FROM projects p WHERE p.id=?`, projectID).Scan(
		&c.LinkedTools, &c.Notes, &c.Tags, &c.Interviews, &c.Assumptions, &c.ValidatedAssumptions, &hasDesc, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	c.HasDescription = hasDesc == 1
	return c, err
}
