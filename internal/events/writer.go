package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine.
const (
	ProjectCreated     = "project.created"
	ProjectUpdated     = "project.updated"
	StepInputsSaved    = "step.inputs.saved"
	StepCompleted      = "step.completed"
	StepReopened       = "step.reopened"
	StepGateFailedOpen = "step.gate.failed_open"
	SignalAdded        = "signal.added"
	DiscoverySaved     = "discovery.saved"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row. Pass a transaction to make the event part of the
// same write as the state change; nil falls back to the writer's DB.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	var exec Execer
	switch {
	case tx != nil:
		exec = tx
	case w.DB != nil:
		exec = w.DB
	default:
		return fmt.Errorf("event writer has no database")
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = exec.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
