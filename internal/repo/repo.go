package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ventureline/internal/domain"
)

// Repo is the sqlite-backed store for projects, step states, project signals and
// discovery outputs.
type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleWrite is returned when a step state write carries an updated_at older
	// than the stored row.
	ErrStaleWrite = errors.New("stale write: step state was updated more recently")
	// ErrCompletionWithoutOutput is returned when a write marks a step completed
	// without a generated output in the same write.
	ErrCompletionWithoutOutput = errors.New("completed status requires generated output in the same write")
)

type rowScanner interface {
	Scan(dest ...any) error
}

const projectColumns = `id,owner_id,name,status,COALESCE(description,''),created_at,updated_at`

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Status, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := execer(r.DB, tx).ExecContext(ctx, `INSERT INTO projects(id,owner_id,name,status,description,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.OwnerID, p.Name, p.Status, nullable(p.Description), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// ListProjects returns projects newest first, optionally restricted to one owner.
func (r Repo) ListProjects(ctx context.Context, ownerID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProject returns the only project owned by ownerID.
func (r Repo) SingleProject(ctx context.Context, ownerID string) (domain.Project, error) {
	projects, err := r.ListProjects(ctx, ownerID)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

// ProjectUpdate lists the mutable project fields; nil leaves a field unchanged.
type ProjectUpdate struct {
	Name        *string
	Status      *string
	Description *string
	UpdatedAt   string
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, id string, u ProjectUpdate) error {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *u.Status)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*u.Description))
	}
	if u.UpdatedAt != "" {
		fields = append(fields, "updated_at=?")
		args = append(args, u.UpdatedAt)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := execer(r.DB, tx).ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchProject bumps updated_at; it feeds the health score's activity signal.
func (r Repo) TouchProject(ctx context.Context, tx *sql.Tx, id, ts string) error {
	return r.UpdateProject(ctx, tx, id, ProjectUpdate{UpdatedAt: ts})
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryContext interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func execer(db *sql.DB, tx *sql.Tx) execContext {
	if tx != nil {
		return tx
	}
	return db
}

func querier(db *sql.DB, tx *sql.Tx) queryContext {
	if tx != nil {
		return tx
	}
	return db
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
