package repo

import (
	"context"
	"database/sql"
	"errors"

	"ventureline/internal/domain"
)

func (r Repo) InsertInterview(ctx context.Context, tx *sql.Tx, iv domain.Interview) error {
	if iv.ID == "" || iv.Interviewee == "" {
		return errors.New("interview id and interviewee required")
	}
	_, err := execer(r.DB, tx).ExecContext(ctx, `INSERT INTO interviews(id,project_id,interviewee,summary,held_at,created_at) VALUES (?,?,?,?,?,?)`,
		iv.ID, iv.ProjectID, iv.Interviewee, nullable(iv.Summary), iv.HeldAt, iv.CreatedAt)
	return err
}

func (r Repo) ListInterviews(ctx context.Context, projectID string) ([]domain.Interview, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,interviewee,COALESCE(summary,''),held_at,created_at
FROM interviews WHERE project_id=? ORDER BY held_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Interview
	for rows.Next() {
		var iv domain.Interview
		if err := rows.Scan(&iv.ID, &iv.ProjectID, &iv.Interviewee, &iv.Summary, &iv.HeldAt, &iv.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, iv)
	}
	return res, rows.Err()
}

func (r Repo) InsertAssumption(ctx context.Context, tx *sql.Tx, a domain.Assumption) error {
	if a.ID == "" || a.Statement == "" {
		return errors.New("assumption id and statement required")
	}
	_, err := execer(r.DB, tx).ExecContext(ctx, `INSERT INTO assumptions(id,project_id,statement,validated,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.Statement, boolInt(a.Validated), a.CreatedAt, a.UpdatedAt)
	return err
}

// SetAssumptionValidated flips the validated flag and returns the updated row.
func (r Repo) SetAssumptionValidated(ctx context.Context, tx *sql.Tx, projectID, id string, validated bool, ts string) (domain.Assumption, error) {
	res, err := execer(r.DB, tx).ExecContext(ctx, `UPDATE assumptions SET validated=?, updated_at=? WHERE id=? AND project_id=?`,
		boolInt(validated), ts, id, projectID)
	if err != nil {
		return domain.Assumption{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Assumption{}, ErrNotFound
	}
	var a domain.Assumption
	var v int
	err = querier(r.DB, tx).QueryRowContext(ctx, `SELECT id,project_id,statement,validated,created_at,updated_at FROM assumptions WHERE id=?`, id).
		Scan(&a.ID, &a.ProjectID, &a.Statement, &v, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	a.Validated = v != 0
	return a, err
}

func (r Repo) ListAssumptions(ctx context.Context, projectID string) ([]domain.Assumption, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,statement,validated,created_at,updated_at
FROM assumptions WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assumption
	for rows.Next() {
		var a domain.Assumption
		var v int
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Statement, &v, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Validated = v != 0
		res = append(res, a)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
