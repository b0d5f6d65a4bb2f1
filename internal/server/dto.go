package server

import (
	"encoding/json"

	"ventureline/internal/domain"
	"ventureline/internal/engine"
	"ventureline/internal/progress"
	"ventureline/internal/wizard"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status,omitempty" enum:"draft,active,paused,review,complete,archived"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Status      *string `json:"status,omitempty" enum:"draft,active,paused,review,complete,archived"`
	Description *string `json:"description,omitempty"`
}

type SaveStepRequest struct {
	Inputs map[string]any `json:"inputs"`
	// UpdatedAt is the client's edit time; older writes than the stored state are rejected.
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

type CompleteStepRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
	// Output is the generated result stored with the completion; it must not be null.
	Output    any    `json:"output"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

type CreateNoteRequest struct {
	StepKey string `json:"step_key,omitempty"`
	Body    string `json:"body"`
}

type CreateTagRequest struct {
	Name string `json:"name"`
}

type LinkToolRequest struct {
	StepKey   string `json:"step_key,omitempty"`
	Tool      string `json:"tool"`
	OutputRef string `json:"output_ref"`
}

type CreateInterviewRequest struct {
	Interviewee string `json:"interviewee"`
	Summary     string `json:"summary,omitempty"`
	HeldAt      string `json:"held_at" format:"date-time"`
}

type CreateAssumptionRequest struct {
	Statement string `json:"statement"`
}

type SetAssumptionRequest struct {
	Validated bool `json:"validated"`
}

type StartDiscoveryRequest struct {
	ProjectID string `json:"project_id,omitempty"`
}

type DiscoveryAnswerRequest struct {
	Value string `json:"value"`
}

type DiscoveryChooseRequest struct {
	CandidateID string `json:"candidate_id"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Email   string `json:"email,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Status      string `json:"status" enum:"draft,active,paused,review,complete,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type StepStateResponse struct {
	StepKey         string         `json:"step_key"`
	Status          string         `json:"status" enum:"not_started,in_progress,completed"`
	Inputs          map[string]any `json:"inputs"`
	GeneratedOutput any            `json:"generated_output,omitempty"`
	UpdatedAt       string         `json:"updated_at,omitempty" format:"date-time"`
}

type GateResponse struct {
	Allowed           bool   `json:"allowed"`
	BlockingStepKey   string `json:"blocking_step_key,omitempty"`
	BlockingStepTitle string `json:"blocking_step_title,omitempty"`
	FailedOpen        bool   `json:"failed_open,omitempty"`
}

type StepResponse struct {
	Key            string            `json:"key"`
	Title          string            `json:"title"`
	Ordinal        int               `json:"ordinal"`
	RequiredInputs []string          `json:"required_inputs"`
	State          StepStateResponse `json:"state"`
	Gate           GateResponse      `json:"gate"`
	MissingInputs  []string          `json:"missing_inputs"`
}

type ProgressResponse struct {
	ProjectID      string   `json:"project_id"`
	CompletedCount int      `json:"completed_count"`
	TotalCount     int      `json:"total_count"`
	Percent        float64  `json:"percent"`
	Degraded       []string `json:"degraded,omitempty"`
}

type HealthResponse struct {
	ProjectID        string           `json:"project_id"`
	Score            int              `json:"score" minimum:"0" maximum:"100"`
	StepScore        float64          `json:"step_score"`
	DataQualityScore float64          `json:"data_quality_score"`
	ValidationScore  float64          `json:"validation_score"`
	ActivityScore    float64          `json:"activity_score"`
	DaysSinceUpdate  *int             `json:"days_since_update,omitempty"`
	Progress         ProgressResponse `json:"progress"`
	Degraded         []string         `json:"degraded,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type StageResponse struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Optional bool   `json:"optional"`
	Input    bool   `json:"input"`
	Kind     string `json:"kind,omitempty"`
}

type SelectionResponse struct {
	Stage        string             `json:"stage"`
	Chosen       domain.Candidate   `json:"chosen"`
	CandidateSet []domain.Candidate `json:"candidate_set"`
}

type DiscoverySessionResponse struct {
	ID         string              `json:"id"`
	OwnerID    string              `json:"owner_id"`
	ProjectID  string              `json:"project_id,omitempty"`
	Stage      string              `json:"stage"`
	Answers    map[string]string   `json:"answers"`
	Skipped    []string            `json:"skipped"`
	Selections []SelectionResponse `json:"selections"`
	// Candidates are the generated, not yet chosen options of the current stage.
	Candidates []domain.Candidate `json:"candidates"`
	Saved      bool               `json:"saved"`
	OutputID   string             `json:"output_id,omitempty"`
	CreatedAt  string             `json:"created_at" format:"date-time"`
	UpdatedAt  string             `json:"updated_at" format:"date-time"`
}

type GenerateResponse struct {
	Candidates []domain.Candidate       `json:"candidates"`
	Session    DiscoverySessionResponse `json:"session"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only returned when the key is created.
	Key string `json:"key,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Email   string `json:"email,omitempty"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func stepStateResponse(s domain.StepState) StepStateResponse {
	inputs := s.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	status := s.Status
	if status == "" {
		status = domain.StepNotStarted
	}
	var output any
	if s.HasOutput() {
		if err := json.Unmarshal(s.GeneratedOutput, &output); err != nil {
			output = string(s.GeneratedOutput)
		}
	}
	return StepStateResponse{
		StepKey:         s.StepKey,
		Status:          string(status),
		Inputs:          inputs,
		GeneratedOutput: output,
		UpdatedAt:       s.UpdatedAt,
	}
}

func stepResponse(v engine.StepView) StepResponse {
	return StepResponse{
		Key:            v.Definition.Key,
		Title:          v.Definition.Title,
		Ordinal:        v.Definition.Ordinal,
		RequiredInputs: nonNilSlice(v.Definition.RequiredInputs),
		State:          stepStateResponse(v.State),
		Gate: GateResponse{
			Allowed:           v.Decision.Allowed,
			BlockingStepKey:   v.Decision.BlockingStepKey,
			BlockingStepTitle: v.Decision.BlockingStepTitle,
			FailedOpen:        v.Decision.FailedOpen,
		},
		MissingInputs: nonNilSlice(v.MissingInputs),
	}
}

func progressResponse(projectID string, p progress.Progress, degraded []string) ProgressResponse {
	return ProgressResponse{
		ProjectID:      projectID,
		CompletedCount: p.CompletedCount,
		TotalCount:     p.TotalCount,
		Percent:        p.Percent,
		Degraded:       degraded,
	}
}

func healthResponse(r engine.HealthReport) HealthResponse {
	return HealthResponse{
		ProjectID:        r.ProjectID,
		Score:            r.Health.Score,
		StepScore:        r.Health.StepScore,
		DataQualityScore: r.Health.DataQualityScore,
		ValidationScore:  r.Health.ValidationScore,
		ActivityScore:    r.Health.ActivityScore,
		DaysSinceUpdate:  r.Health.DaysSinceUpdate,
		Progress:         progressResponse(r.ProjectID, r.Progress, nil),
		Degraded:         r.Degraded,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			payload = map[string]any{"raw": e.Payload}
		}
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func stageResponse(d wizard.StageDef) StageResponse {
	return StageResponse{
		Key:      string(d.Key),
		Title:    d.Title,
		Optional: d.Optional,
		Input:    d.Input,
		Kind:     string(d.Kind),
	}
}

func sessionResponse(s *wizard.Session) DiscoverySessionResponse {
	resp := DiscoverySessionResponse{
		ID:         s.ID,
		OwnerID:    s.OwnerID,
		ProjectID:  s.ProjectID,
		Stage:      string(s.Stage),
		Answers:    map[string]string{},
		Skipped:    []string{},
		Selections: []SelectionResponse{},
		Candidates: nonNilSlice(s.Pending[s.Stage]),
		Saved:      s.Saved,
		OutputID:   s.OutputID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
	for stage, v := range s.Answers {
		resp.Answers[string(stage)] = v
	}
	for _, def := range wizard.Stages() {
		if s.Skipped[def.Key] {
			resp.Skipped = append(resp.Skipped, string(def.Key))
		}
	}
	for _, sel := range s.Selections {
		resp.Selections = append(resp.Selections, SelectionResponse{
			Stage:        string(sel.Stage),
			Chosen:       sel.Chosen,
			CandidateSet: nonNilSlice(sel.CandidateSet),
		})
	}
	return resp
}

func mapSessions(items []*wizard.Session) []DiscoverySessionResponse {
	out := make([]DiscoverySessionResponse, 0, len(items))
	for _, s := range items {
		out = append(out, sessionResponse(s))
	}
	return out
}

func apiKeyResponse(k domain.APIKey, plain string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt, Key: plain}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
