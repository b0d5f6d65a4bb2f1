package domain

import "encoding/json"

// Project statuses. Status is set by the owner and is not derived from step completion.
const (
	ProjectDraft    = "draft"
	ProjectActive   = "active"
	ProjectPaused   = "paused"
	ProjectReview   = "review"
	ProjectComplete = "complete"
	ProjectArchived = "archived"
)

// ProjectStatuses lists every accepted project status.
var ProjectStatuses = []string{ProjectDraft, ProjectActive, ProjectPaused, ProjectReview, ProjectComplete, ProjectArchived}

// ValidProjectStatus reports whether s is a known project status.
func ValidProjectStatus(s string) bool {
	for _, v := range ProjectStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Project struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"draft,active,paused,review,complete,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type StepStatus string

const (
	StepNotStarted StepStatus = "not_started"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// StepDefinition is one entry of the fixed step catalog.
type StepDefinition struct {
	Key            string   `json:"key"`
	Title          string   `json:"title"`
	Ordinal        int      `json:"ordinal"`
	RequiredInputs []string `json:"required_inputs,omitempty"`
}

// StepState is the per-project progress of one step. A missing row reads as not_started.
type StepState struct {
	ProjectID       string          `json:"project_id"`
	StepKey         string          `json:"step_key"`
	Status          StepStatus      `json:"status" enum:"not_started,in_progress,completed"`
	Inputs          map[string]any  `json:"inputs,omitempty"`
	GeneratedOutput json.RawMessage `json:"generated_output,omitempty"`
	UpdatedAt       string          `json:"updated_at,omitempty" format:"date-time"`
}

// HasOutput reports whether a non-null generated output is present.
func (s StepState) HasOutput() bool {
	if len(s.GeneratedOutput) == 0 {
		return false
	}
	return string(s.GeneratedOutput) != "null"
}

// StepStatePatch is a partial write to a StepState. Nil fields are left untouched.
type StepStatePatch struct {
	Status          *StepStatus
	Inputs          map[string]any
	GeneratedOutput json.RawMessage
	UpdatedAt       string
}

type Note struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	StepKey   string `json:"step_key,omitempty"`
	Body      string `json:"body"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Tag struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// LinkedTool records that an external tool's output was attached to a project.
type LinkedTool struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	StepKey   string `json:"step_key,omitempty"`
	Tool      string `json:"tool"`
	OutputRef string `json:"output_ref"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Interview is a customer validation interview logged against a project.
type Interview struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Interviewee string `json:"interviewee"`
	Summary     string `json:"summary,omitempty"`
	HeldAt      string `json:"held_at" format:"date-time"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Assumption struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Statement string `json:"statement"`
	Validated bool   `json:"validated"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// ProjectSnapshot carries the signals the health score is computed from.
type ProjectSnapshot struct {
	ProjectID                string      `json:"project_id"`
	TotalSteps               int         `json:"total_steps"`
	StepStates               []StepState `json:"step_states"`
	LinkedToolCount          int         `json:"linked_tool_count"`
	NoteCount                int         `json:"note_count"`
	HasDescription           bool        `json:"has_description"`
	TagCount                 int         `json:"tag_count"`
	InterviewCount           int         `json:"interview_count"`
	AssumptionCount          int         `json:"assumption_count"`
	ValidatedAssumptionCount int         `json:"validated_assumption_count"`
	LastUpdatedAt            string      `json:"last_updated_at,omitempty" format:"date-time"`
}

// Candidate is one generated option offered at a discovery stage.
type Candidate struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Icon        string            `json:"icon"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// DiscoveryOutput is the immutable result of a completed discovery session.
type DiscoveryOutput struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	ProjectID    string            `json:"project_id,omitempty"`
	SessionID    string            `json:"session_id"`
	Answers      map[string]string `json:"answers,omitempty"`
	BusinessArea Candidate         `json:"business_area"`
	Customer     Candidate         `json:"customer"`
	Job          Candidate         `json:"job"`
	Solution     Candidate         `json:"solution"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
