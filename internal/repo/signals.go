package repo

import (
	"context"
	"database/sql"
	"errors"

	"ventureline/internal/domain"
)

func (r Repo) InsertNote(ctx context.Context, tx *sql.Tx, n domain.Note) error {
	if n.ID == "" || n.ProjectID == "" {
		return errors.New("note id and project_id required")
	}
	_, err := execer(r.DB, tx).ExecContext(ctx, `INSERT INTO notes(id,project_id,step_key,body,created_by,created_at) VALUES (?,?,?,?,?,?)`,
		n.ID, n.ProjectID, nullable(n.StepKey), n.Body, n.CreatedBy, n.CreatedAt)
	return err
}

func (r Repo) ListNotes(ctx context.Context, projectID string) ([]domain.Note, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,COALESCE(step_key,''),body,created_by,created_at
FROM notes WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Note
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.ProjectID, &n.StepKey, &n.Body, &n.CreatedBy, &n.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// InsertTag adds a tag; adding an existing tag is a no-op.
func (r Repo) InsertTag(ctx context.Context, tx *sql.Tx, t domain.Tag) error {
	if t.Name == "" {
		return errors.New("tag name required")
	}
	_, err := execer(r.DB, tx).ExecContext(ctx, `INSERT OR IGNORE INTO tags(project_id,name,created_at) VALUES (?,?,?)`,
		t.ProjectID, t.Name, t.CreatedAt)
	return err
}

func (r Repo) ListTags(ctx context.Context, projectID string) ([]domain.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,name,created_at FROM tags WHERE project_id=? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ProjectID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertLinkedTool(ctx context.Context, tx *sql.Tx, l domain.LinkedTool) error {
	if l.ID == "" || l.Tool == "" {
		return errors.New("linked tool id and tool required")
	}
	_, err := execer(r.DB, tx).ExecContext(ctx, `INSERT INTO linked_tools(id,project_id,step_key,tool,output_ref,created_at) VALUES (?,?,?,?,?,?)`,
		l.ID, l.ProjectID, nullable(l.StepKey), l.Tool, l.OutputRef, l.CreatedAt)
	return err
}

// ListLinkedTools returns tool references of a project, optionally for one step.
func (r Repo) ListLinkedTools(ctx context.Context, projectID, stepKey string) ([]domain.LinkedTool, error) {
	query := `SELECT id,project_id,COALESCE(step_key,''),tool,output_ref,created_at FROM linked_tools WHERE project_id=?`
	args := []any{projectID}
	if stepKey != "" {
		query += ` AND step_key=?`
		args = append(args, stepKey)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LinkedTool
	for rows.Next() {
		var l domain.LinkedTool
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.StepKey, &l.Tool, &l.OutputRef, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
