package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"ventureline/internal/engine"
)

type stepPath struct {
	ProjectID string `path:"project_id"`
	StepKey   string `path:"step_key"`
}

func registerSteps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-steps",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/steps",
		Summary:     "List steps with state and lock decision",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]StepResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		views, err := e.ListSteps(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]StepResponse, 0, len(views))
		for _, v := range views {
			out = append(out, stepResponse(v))
		}
		return respond(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "enter-step",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/steps/{step_key}",
		Summary:     "Enter a step",
		Description: "Returns 409 step_locked naming the blocking step when the previous step is not completed. " +
			"If the previous step cannot be read the step is opened and gate.failed_open is set.",
		Errors: []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *stepPath) (*output[StepResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.EnterStep(ctx, input.ProjectID, input.StepKey, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(stepResponse(view)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-step-inputs",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/steps/{step_key}/inputs",
		Summary:     "Auto-save step inputs",
		Description: "Last write wins on inputs. A write whose updated_at is older than the stored state is rejected with 409 stale_write.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		StepKey   string          `path:"step_key"`
		Body      SaveStepRequest `json:"body"`
	}) (*output[StepStateResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.SaveStepInputs(ctx, engine.StepSaveOptions{
			ProjectID: input.ProjectID,
			StepKey:   input.StepKey,
			Inputs:    input.Body.Inputs,
			UpdatedAt: input.Body.UpdatedAt,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(stepStateResponse(st)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-step",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/steps/{step_key}/complete",
		Summary:     "Complete a step with its output",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		StepKey   string              `path:"step_key"`
		Body      CompleteStepRequest `json:"body"`
	}) (*output[StepStateResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var out json.RawMessage
		if input.Body.Output != nil {
			raw, err := json.Marshal(input.Body.Output)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid output", nil)
			}
			out = raw
		}
		st, err := e.CompleteStep(ctx, engine.StepCompleteOptions{
			ProjectID: input.ProjectID,
			StepKey:   input.StepKey,
			Inputs:    input.Body.Inputs,
			Output:    out,
			UpdatedAt: input.Body.UpdatedAt,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return respond(stepStateResponse(st)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-step",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/steps/{step_key}/generate",
		Summary:     "Generate the step output from saved inputs and complete the step",
		Description: "Calls the generator once. On 502 generation_failed nothing is written and the request may be retried.",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *stepPath) (*output[StepStateResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.GenerateStep(ctx, input.ProjectID, input.StepKey, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(stepStateResponse(st)), nil
	})
}
