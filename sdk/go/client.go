package venturelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Ventureline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		// Generation calls wait on the backing model.
		Timeout: 90 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// StepState is the stored progress of one step.
type StepState struct {
	StepKey         string          `json:"step_key"`
	Status          string          `json:"status"`
	Inputs          map[string]any  `json:"inputs"`
	GeneratedOutput json.RawMessage `json:"generated_output,omitempty"`
	UpdatedAt       string          `json:"updated_at,omitempty"`
}

// Gate is the lock decision of a step.
type Gate struct {
	Allowed           bool   `json:"allowed"`
	BlockingStepKey   string `json:"blocking_step_key,omitempty"`
	BlockingStepTitle string `json:"blocking_step_title,omitempty"`
	FailedOpen        bool   `json:"failed_open,omitempty"`
}

// Step is a catalog entry together with its state and gate decision.
type Step struct {
	Key            string    `json:"key"`
	Title          string    `json:"title"`
	Ordinal        int       `json:"ordinal"`
	RequiredInputs []string  `json:"required_inputs"`
	State          StepState `json:"state"`
	Gate           Gate      `json:"gate"`
	MissingInputs  []string  `json:"missing_inputs"`
}

type Progress struct {
	ProjectID      string   `json:"project_id"`
	CompletedCount int      `json:"completed_count"`
	TotalCount     int      `json:"total_count"`
	Percent        float64  `json:"percent"`
	Degraded       []string `json:"degraded,omitempty"`
}

type Health struct {
	ProjectID        string   `json:"project_id"`
	Score            int      `json:"score"`
	StepScore        float64  `json:"step_score"`
	DataQualityScore float64  `json:"data_quality_score"`
	ValidationScore  float64  `json:"validation_score"`
	ActivityScore    float64  `json:"activity_score"`
	DaysSinceUpdate  *int     `json:"days_since_update,omitempty"`
	Progress         Progress `json:"progress"`
	Degraded         []string `json:"degraded,omitempty"`
}

// Candidate is one generated discovery option.
type Candidate struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Icon        string            `json:"icon"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type Selection struct {
	Stage        string      `json:"stage"`
	Chosen       Candidate   `json:"chosen"`
	CandidateSet []Candidate `json:"candidate_set"`
}

// DiscoverySession is an in-flight Idea Discovery session.
type DiscoverySession struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"owner_id"`
	ProjectID  string            `json:"project_id,omitempty"`
	Stage      string            `json:"stage"`
	Answers    map[string]string `json:"answers"`
	Skipped    []string          `json:"skipped"`
	Selections []Selection       `json:"selections"`
	Candidates []Candidate       `json:"candidates"`
	Saved      bool              `json:"saved"`
	OutputID   string            `json:"output_id,omitempty"`
}

// DiscoveryOutput is the saved result of a completed session.
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
	CreatedAt    string            `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Details come from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the same request may succeed when sent again.
func (e *APIError) Retryable() bool {
	if v, ok := e.Details["retryable"].(bool); ok {
		return v
	}
	return e.StatusCode == http.StatusBadGateway || e.StatusCode == http.StatusServiceUnavailable
}

// CreateProject creates a project owned by the caller.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v1/projects", body, &resp)
	return resp, err
}

// SetProjectStatus changes the project status.
func (c *Client) SetProjectStatus(ctx context.Context, status string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, c.projectPath(""), map[string]any{"status": status}, &resp)
	return resp, err
}

// Steps lists the catalog with state and lock decisions.
func (c *Client) Steps(ctx context.Context) ([]Step, error) {
	var resp []Step
	err := c.do(ctx, http.MethodGet, c.projectPath("steps"), nil, &resp)
	return resp, err
}

// EnterStep returns the step or a 409 step_locked APIError naming the blocking step.
func (c *Client) EnterStep(ctx context.Context, key string) (Step, error) {
	var resp Step
	err := c.do(ctx, http.MethodGet, c.projectPath("steps/"+url.PathEscape(key)), nil, &resp)
	return resp, err
}

// SaveInputs auto-saves step inputs. updatedAt orders concurrent saves; a zero
// value lets the server stamp the write.
func (c *Client) SaveInputs(ctx context.Context, key string, inputs map[string]any, updatedAt time.Time) (StepState, error) {
	body := map[string]any{"inputs": inputs}
	if !updatedAt.IsZero() {
		body["updated_at"] = updatedAt.UTC().Format(time.RFC3339Nano)
	}
	var resp StepState
	err := c.do(ctx, http.MethodPut, c.projectPath("steps/"+url.PathEscape(key)+"/inputs"), body, &resp)
	return resp, err
}

// CompleteStep stores output and marks the step completed in one write.
func (c *Client) CompleteStep(ctx context.Context, key string, inputs map[string]any, output any) (StepState, error) {
	body := map[string]any{"output": output}
	if inputs != nil {
		body["inputs"] = inputs
	}
	var resp StepState
	err := c.do(ctx, http.MethodPost, c.projectPath("steps/"+url.PathEscape(key)+"/complete"), body, &resp)
	return resp, err
}

// GenerateStep asks the server to generate the step output from saved inputs.
func (c *Client) GenerateStep(ctx context.Context, key string) (StepState, error) {
	var resp StepState
	err := c.do(ctx, http.MethodPost, c.projectPath("steps/"+url.PathEscape(key)+"/generate"), nil, &resp)
	return resp, err
}

func (c *Client) Progress(ctx context.Context) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, c.projectPath("progress"), nil, &resp)
	return resp, err
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, c.projectPath("health"), nil, &resp)
	return resp, err
}

// AddNote attaches a note to the project, optionally for one step.
func (c *Client) AddNote(ctx context.Context, stepKey, body string) error {
	return c.do(ctx, http.MethodPost, c.projectPath("notes"), map[string]any{"step_key": stepKey, "body": body}, nil)
}

// LinkTool records an external tool output on the project.
func (c *Client) LinkTool(ctx context.Context, stepKey, tool, outputRef string) error {
	return c.do(ctx, http.MethodPost, c.projectPath("links"), map[string]any{"step_key": stepKey, "tool": tool, "output_ref": outputRef}, nil)
}

// StartDiscovery opens an Idea Discovery session, attached to the client's project
// when one is set.
func (c *Client) StartDiscovery(ctx context.Context) (DiscoverySession, error) {
	body := map[string]any{}
	if c.ProjectID != "" {
		body["project_id"] = c.ProjectID
	}
	var resp DiscoverySession
	err := c.do(ctx, http.MethodPost, "v1/discovery/sessions", body, &resp)
	return resp, err
}

func (c *Client) Discovery(ctx context.Context, sessionID string) (DiscoverySession, error) {
	var resp DiscoverySession
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &resp)
	return resp, err
}

// Answer answers the session's current input stage.
func (c *Client) Answer(ctx context.Context, sessionID, value string) (DiscoverySession, error) {
	var resp DiscoverySession
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "answer"), map[string]any{"value": value}, &resp)
	return resp, err
}

// Next, Previous and Skip move the session by one stage.
func (c *Client) Next(ctx context.Context, sessionID string) (DiscoverySession, error) {
	return c.move(ctx, sessionID, "next")
}

func (c *Client) Previous(ctx context.Context, sessionID string) (DiscoverySession, error) {
	return c.move(ctx, sessionID, "previous")
}

func (c *Client) Skip(ctx context.Context, sessionID string) (DiscoverySession, error) {
	return c.move(ctx, sessionID, "skip")
}

func (c *Client) move(ctx context.Context, sessionID, action string) (DiscoverySession, error) {
	var resp DiscoverySession
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, action), nil, &resp)
	return resp, err
}

// Generate requests candidates for the current selection stage. It is never
// retried by the client.
func (c *Client) Generate(ctx context.Context, sessionID string) ([]Candidate, error) {
	var resp struct {
		Candidates []Candidate `json:"candidates"`
	}
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "generate"), nil, &resp)
	return resp.Candidates, err
}

func (c *Client) Choose(ctx context.Context, sessionID, candidateID string) (DiscoverySession, error) {
	var resp DiscoverySession
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "choose"), map[string]any{"candidate_id": candidateID}, &resp)
	return resp, err
}

// Finalize saves the session output; repeated calls return the same output.
func (c *Client) Finalize(ctx context.Context, sessionID string) (DiscoveryOutput, error) {
	var resp DiscoveryOutput
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "finalize"), nil, &resp)
	return resp, err
}

// DiscoveryOutputs lists the caller's saved outputs.
func (c *Client) DiscoveryOutputs(ctx context.Context) ([]DiscoveryOutput, error) {
	endpoint := "v1/discovery/outputs"
	if c.ProjectID != "" {
		endpoint += "?project_id=" + url.QueryEscape(c.ProjectID)
	}
	var resp []DiscoveryOutput
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return fmt.Sprintf("v1/projects/%s", project)
	}
	return fmt.Sprintf("v1/projects/%s/%s", project, p)
}

func sessionPath(sessionID, action string) string {
	p := "v1/discovery/sessions/" + url.PathEscape(sessionID)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
