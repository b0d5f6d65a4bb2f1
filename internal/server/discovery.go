package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"ventureline/internal/domain"
	"ventureline/internal/engine"
	"ventureline/internal/wizard"
)

type sessionPath struct {
	SessionID string `path:"session_id"`
}

// sessionAction registers a body-less POST that moves a discovery session.
func sessionAction(api huma.API, id, suffix, summary string, run func(ctx context.Context, sessionID, actorID string) (*wizard.Session, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        "/discovery/sessions/{session_id}/" + suffix,
		Summary:     summary,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *sessionPath) (*output[DiscoverySessionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := run(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(sessionResponse(s)), nil
	})
}

func registerDiscovery(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-discovery-stages",
		Method:      http.MethodGet,
		Path:        "/discovery/stages",
		Summary:     "Idea Discovery stages in order",
	}, func(ctx context.Context, _ *struct{}) (*output[[]StageResponse], error) {
		defs := wizard.Stages()
		out := make([]StageResponse, 0, len(defs))
		for _, d := range defs {
			out = append(out, stageResponse(d))
		}
		return respond(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-discovery",
		Method:        http.MethodPost,
		Path:          "/discovery/sessions",
		Summary:       "Start an Idea Discovery session",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body StartDiscoveryRequest `json:"body" required:"false"`
	}) (*output[DiscoverySessionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.StartDiscovery(ctx, actorID, input.Body.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(sessionResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-discovery-sessions",
		Method:      http.MethodGet,
		Path:        "/discovery/sessions",
		Summary:     "List in-flight discovery sessions",
	}, func(ctx context.Context, _ *struct{}) (*output[[]DiscoverySessionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListDiscoveries(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(mapSessions(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-discovery-session",
		Method:      http.MethodGet,
		Path:        "/discovery/sessions/{session_id}",
		Summary:     "Get discovery session",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*output[DiscoverySessionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.GetDiscovery(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(sessionResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "answer-discovery-stage",
		Method:      http.MethodPost,
		Path:        "/discovery/sessions/{session_id}/answer",
		Summary:     "Answer the current input stage",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SessionID string                 `path:"session_id"`
		Body      DiscoveryAnswerRequest `json:"body"`
	}) (*output[DiscoverySessionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.DiscoveryAnswer(ctx, input.SessionID, actorID, input.Body.Value)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(sessionResponse(s)), nil
	})

	sessionAction(api, "discovery-next", "next", "Advance one stage; reaching the summary saves the output", e.DiscoveryNext)
	sessionAction(api, "discovery-previous", "previous", "Go back one stage", e.DiscoveryPrevious)
	sessionAction(api, "discovery-skip", "skip", "Skip the current optional stage", e.DiscoverySkip)

	huma.Register(api, huma.Operation{
		OperationID: "discovery-generate",
		Method:      http.MethodPost,
		Path:        "/discovery/sessions/{session_id}/generate",
		Summary:     "Generate candidates for the current selection stage",
		Description: "Calls the generator once with the answers and confirmed selections so far. " +
			"On 502 generation_failed the session is unchanged and the request may be retried.",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *sessionPath) (*output[GenerateResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cands, s, err := e.DiscoveryGenerate(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(GenerateResponse{Candidates: nonNilSlice(cands), Session: sessionResponse(s)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "discovery-choose",
		Method:      http.MethodPost,
		Path:        "/discovery/sessions/{session_id}/choose",
		Summary:     "Choose one of the generated candidates",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string                 `path:"session_id"`
		Body      DiscoveryChooseRequest `json:"body"`
	}) (*output[DiscoverySessionResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.DiscoveryChoose(ctx, input.SessionID, actorID, input.Body.CandidateID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(sessionResponse(s)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "discovery-finalize",
		Method:      http.MethodPost,
		Path:        "/discovery/sessions/{session_id}/finalize",
		Summary:     "Save the discovery output",
		Description: "Idempotent: a session is saved at most once and later calls return the same output.",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *sessionPath) (*output[domain.DiscoveryOutput], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.DiscoveryFinalize(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-discovery-outputs",
		Method:      http.MethodGet,
		Path:        "/discovery/outputs",
		Summary:     "List saved discovery outputs",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*output[[]domain.DiscoveryOutput], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListDiscoveryOutputs(ctx, actorID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-discovery-output",
		Method:      http.MethodGet,
		Path:        "/discovery/outputs/{output_id}",
		Summary:     "Get a saved discovery output",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OutputID string `path:"output_id"`
	}) (*output[domain.DiscoveryOutput], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.GetDiscoveryOutput(ctx, input.OutputID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(out), nil
	})
}
