package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ventureline/internal/domain"
)

// GetStepState returns the stored state or ErrNotFound when the step was never written.
func (r Repo) GetStepState(ctx context.Context, projectID, stepKey string) (domain.StepState, error) {
	return r.getStepState(ctx, nil, projectID, stepKey)
}

func (r Repo) GetStepStateTx(ctx context.Context, tx *sql.Tx, projectID, stepKey string) (domain.StepState, error) {
	return r.getStepState(ctx, tx, projectID, stepKey)
}

func (r Repo) getStepState(ctx context.Context, tx *sql.Tx, projectID, stepKey string) (domain.StepState, error) {
	row := querier(r.DB, tx).QueryRowContext(ctx, `SELECT project_id,step_key,status,inputs_json,output_json,updated_at
FROM step_states WHERE project_id=? AND step_key=?`, projectID, stepKey)
	s, err := scanStepState(row)
	return s, err
}

// ListStepStates returns every stored state of a project.
func (r Repo) ListStepStates(ctx context.Context, projectID string) ([]domain.StepState, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,step_key,status,inputs_json,output_json,updated_at
FROM step_states WHERE project_id=? ORDER BY step_key`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StepState
	for rows.Next() {
		s, err := scanStepState(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func scanStepState(row rowScanner) (domain.StepState, error) {
	var s domain.StepState
	var status string
	var inputs, output sql.NullString
	err := row.Scan(&s.ProjectID, &s.StepKey, &status, &inputs, &output, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Status = domain.StepStatus(status)
	if inputs.Valid && inputs.String != "" {
		if err := json.Unmarshal([]byte(inputs.String), &s.Inputs); err != nil {
			return s, fmt.Errorf("decode inputs for %s/%s: %w", s.ProjectID, s.StepKey, err)
		}
	}
	if output.Valid && output.String != "" {
		s.GeneratedOutput = json.RawMessage(output.String)
	}
	return s, nil
}

// PutStepState merges a partial write into the stored state and returns the result.
//
// Writes are ordered by patch.UpdatedAt: a patch older than the stored row fails with
// ErrStaleWrite and leaves the row untouched. A patch setting status=completed must
// carry GeneratedOutput itself.
func (r Repo) PutStepState(ctx context.Context, projectID, stepKey string, patch domain.StepStatePatch) (domain.StepState, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StepState{}, err
	}
	defer tx.Rollback()
	s, err := r.PutStepStateTx(ctx, tx, projectID, stepKey, patch)
	if err != nil {
		return domain.StepState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StepState{}, err
	}
	return s, nil
}

func (r Repo) PutStepStateTx(ctx context.Context, tx *sql.Tx, projectID, stepKey string, patch domain.StepStatePatch) (domain.StepState, error) {
	if tx == nil {
		return domain.StepState{}, errors.New("transaction required")
	}
	ts, err := time.Parse(time.RFC3339Nano, patch.UpdatedAt)
	if err != nil {
		return domain.StepState{}, fmt.Errorf("invalid updated_at %q: %w", patch.UpdatedAt, err)
	}
	if patch.Status != nil && *patch.Status == domain.StepCompleted && !hasJSON(patch.GeneratedOutput) {
		return domain.StepState{}, ErrCompletionWithoutOutput
	}

	current, err := r.getStepState(ctx, tx, projectID, stepKey)
	exists := true
	if errors.Is(err, ErrNotFound) {
		exists = false
		current = domain.StepState{ProjectID: projectID, StepKey: stepKey, Status: domain.StepNotStarted}
	} else if err != nil {
		return domain.StepState{}, err
	}
	if exists {
		var storedNS int64
		if err := tx.QueryRowContext(ctx, `SELECT updated_ns FROM step_states WHERE project_id=? AND step_key=?`, projectID, stepKey).Scan(&storedNS); err != nil {
			return domain.StepState{}, err
		}
		if ts.UnixNano() < storedNS {
			return current, ErrStaleWrite
		}
	}

	next := current
	if patch.Inputs != nil {
		next.Inputs = patch.Inputs
	}
	if hasJSON(patch.GeneratedOutput) {
		next.GeneratedOutput = patch.GeneratedOutput
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	next.UpdatedAt = ts.UTC().Format(time.RFC3339Nano)

	inputsJSON, err := marshalInputs(next.Inputs)
	if err != nil {
		return domain.StepState{}, err
	}
	var outputJSON any
	if hasJSON(next.GeneratedOutput) {
		outputJSON = string(next.GeneratedOutput)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO step_states(project_id,step_key,status,inputs_json,output_json,updated_at,updated_ns) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(project_id,step_key) DO UPDATE SET status=excluded.status, inputs_json=excluded.inputs_json,
output_json=excluded.output_json, updated_at=excluded.updated_at, updated_ns=excluded.updated_ns`,
		projectID, stepKey, string(next.Status), inputsJSON, outputJSON, next.UpdatedAt, ts.UnixNano())
	if err != nil {
		return domain.StepState{}, err
	}
	return next, nil
}

func marshalInputs(in map[string]any) (any, error) {
	if in == nil {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}
	return string(b), nil
}

func hasJSON(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
