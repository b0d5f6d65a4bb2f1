package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"ventureline/internal/domain"
	"ventureline/internal/engine"
)

var signalErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusServiceUnavailable,
}

// registerSignals exposes the project signals that feed the health score.
func registerSignals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-note",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/notes",
		Summary:       "Add note",
		DefaultStatus: http.StatusCreated,
		Errors:        signalErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateNoteRequest `json:"body"`
	}) (*output[domain.Note], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.AddNote(ctx, input.ProjectID, input.Body.StepKey, input.Body.Body, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notes",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/notes",
		Summary:     "List notes",
		Errors:      signalErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Note], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListNotes(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-tag",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tags",
		Summary:       "Add tag",
		DefaultStatus: http.StatusCreated,
		Errors:        signalErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      CreateTagRequest `json:"body"`
	}) (*output[domain.Tag], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AddTag(ctx, input.ProjectID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tags",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tags",
		Summary:     "List tags",
		Errors:      signalErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Tag], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListTags(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "link-tool",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/links",
		Summary:       "Link an external tool output",
		DefaultStatus: http.StatusCreated,
		Errors:        signalErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      LinkToolRequest `json:"body"`
	}) (*output[domain.LinkedTool], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.LinkTool(ctx, input.ProjectID, input.Body.StepKey, input.Body.Tool, input.Body.OutputRef, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(l), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-links",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/links",
		Summary:     "List linked tool outputs",
		Errors:      signalErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		StepKey   string `query:"step_key"`
	}) (*output[[]domain.LinkedTool], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListLinkedTools(ctx, input.ProjectID, input.StepKey, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-interview",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/interviews",
		Summary:       "Log a validation interview",
		DefaultStatus: http.StatusCreated,
		Errors:        signalErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      CreateInterviewRequest `json:"body"`
	}) (*output[domain.Interview], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		iv, err := e.AddInterview(ctx, input.ProjectID, input.Body.Interviewee, input.Body.Summary, input.Body.HeldAt, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(iv), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-interviews",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/interviews",
		Summary:     "List validation interviews",
		Errors:      signalErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Interview], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListInterviews(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-assumption",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/assumptions",
		Summary:       "Add assumption",
		DefaultStatus: http.StatusCreated,
		Errors:        signalErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      CreateAssumptionRequest `json:"body"`
	}) (*output[domain.Assumption], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AddAssumption(ctx, input.ProjectID, input.Body.Statement, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-assumption",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/assumptions/{assumption_id}",
		Summary:     "Mark an assumption validated or not",
		Errors:      signalErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID    string               `path:"project_id"`
		AssumptionID string               `path:"assumption_id"`
		Body         SetAssumptionRequest `json:"body"`
	}) (*output[domain.Assumption], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.SetAssumptionValidated(ctx, input.ProjectID, input.AssumptionID, input.Body.Validated, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assumptions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/assumptions",
		Summary:     "List assumptions",
		Errors:      signalErrors,
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Assumption], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAssumptions(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})
}
