package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"ventureline/internal/domain"
)

// ErrDuplicateDiscovery is returned when an output for the session already exists.
var ErrDuplicateDiscovery = errors.New("discovery output already saved for session")

// InsertDiscoveryOutput stores an immutable discovery output. Outputs are never
// updated; one row per wizard session. The session check is part of the insert, so
// concurrent saves for one session yield exactly one row and ErrDuplicateDiscovery
// for the rest.
func (r Repo) InsertDiscoveryOutput(ctx context.Context, out domain.DiscoveryOutput) error {
	if out.ID == "" || out.SessionID == "" || out.OwnerID == "" {
		return errors.New("discovery output id, session_id and owner_id required")
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode discovery output: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO discovery_outputs(id,owner_id,project_id,session_id,output_json,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(session_id) DO NOTHING`,
		out.ID, out.OwnerID, nullable(out.ProjectID), out.SessionID, string(payload), out.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateDiscovery
	}
	return nil
}

func (r Repo) GetDiscoveryOutput(ctx context.Context, id string) (domain.DiscoveryOutput, error) {
	return scanDiscovery(r.DB.QueryRowContext(ctx, `SELECT output_json FROM discovery_outputs WHERE id=?`, id))
}

func (r Repo) GetDiscoveryOutputBySession(ctx context.Context, sessionID string) (domain.DiscoveryOutput, error) {
	return scanDiscovery(r.DB.QueryRowContext(ctx, `SELECT output_json FROM discovery_outputs WHERE session_id=?`, sessionID))
}

// ListDiscoveryOutputs returns an owner's outputs newest first.
func (r Repo) ListDiscoveryOutputs(ctx context.Context, ownerID string) ([]domain.DiscoveryOutput, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT output_json FROM discovery_outputs WHERE owner_id=? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DiscoveryOutput
	for rows.Next() {
		out, err := scanDiscovery(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, out)
	}
	return res, rows.Err()
}

func scanDiscovery(row rowScanner) (domain.DiscoveryOutput, error) {
	var out domain.DiscoveryOutput
	var payload string
	err := row.Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return out, ErrNotFound
	}
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return out, fmt.Errorf("decode discovery output: %w", err)
	}
	return out, nil
}
