package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/acplink/internal/conn"
	"github.com/gosuda/acplink/internal/session"
)

type CreateSessionInput struct {
	Body struct {
		Cwd string `json:"cwd" minLength:"1" doc:"Working directory for the session"`
	}
}

type SessionOutput struct {
	Body *session.Data
}

type ListSessionsOutput struct {
	Body []session.Metadata
}

type GetSessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type DeleteSessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type ForkSessionInput struct {
	ID   string `path:"id" doc:"Session ID to fork"`
	Body struct {
		Cwd string `json:"cwd" minLength:"1" doc:"Working directory for the fork"`
	}
}

type DuplicateSessionInput struct {
	ID string `path:"id" doc:"Session ID to duplicate"`
}

type SetSessionModeInput struct {
	ID   string `path:"id" doc:"Session ID"`
	Body struct {
		ModeID string `json:"mode_id" minLength:"1" doc:"Mode to switch the agent into"`
	}
}

func RegisterSessionRoutes(api huma.API, orchestrator Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Create a new agent session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *CreateSessionInput) (*SessionOutput, error) {
		data, err := orchestrator.CreateSession(ctx, input.Body.Cwd)
		if err != nil {
			if errors.Is(err, conn.ErrNotConnected) {
				return nil, huma.Error409Conflict("not connected to an agent")
			}
			return nil, huma.Error500InternalServerError("failed to create session", err)
		}

		return &SessionOutput{Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List persisted sessions, most recently updated first",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, _ *struct{}) (*ListSessionsOutput, error) {
		list, err := orchestrator.ListSessions(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list sessions", err)
		}

		return &ListSessionsOutput{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Load a session with its full history",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetSessionInput) (*SessionOutput, error) {
		data, err := orchestrator.LoadSession(ctx, input.ID, "")
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			if errors.Is(err, conn.ErrNotConnected) {
				return nil, huma.Error409Conflict("not connected to an agent")
			}
			return nil, huma.Error500InternalServerError("failed to load session", err)
		}

		return &SessionOutput{Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-session",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}",
		Summary:     "Delete a persisted session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *DeleteSessionInput) (*struct{}, error) {
		err := orchestrator.DeleteSession(ctx, input.ID)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to delete session", err)
		}

		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fork-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/fork",
		Summary:     "Fork a session on the agent and copy its history",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ForkSessionInput) (*SessionOutput, error) {
		data, err := orchestrator.ForkSession(ctx, input.ID, input.Body.Cwd)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrSessionNotFound):
				return nil, huma.Error404NotFound("session not found")
			case errors.Is(err, conn.ErrNotConnected):
				return nil, huma.Error409Conflict("not connected to an agent")
			case errors.Is(err, conn.ErrUnsupported):
				return nil, huma.Error400BadRequest("agent does not support session forking")
			}
			return nil, huma.Error500InternalServerError("failed to fork session", err)
		}

		return &SessionOutput{Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "duplicate-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/duplicate",
		Summary:     "Duplicate a session locally without involving the agent",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *DuplicateSessionInput) (*SessionOutput, error) {
		data, err := orchestrator.DuplicateSession(ctx, input.ID)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to duplicate session", err)
		}

		return &SessionOutput{Body: data}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-session-mode",
		Method:      http.MethodPut,
		Path:        "/sessions/{id}/mode",
		Summary:     "Switch the agent's mode for a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *SetSessionModeInput) (*struct{}, error) {
		err := orchestrator.SetSessionMode(ctx, input.ID, input.Body.ModeID)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrSessionNotFound):
				return nil, huma.Error404NotFound("session not found")
			case errors.Is(err, conn.ErrNotConnected):
				return nil, huma.Error409Conflict("not connected to an agent")
			case errors.Is(err, conn.ErrUnsupported):
				return nil, huma.Error400BadRequest("agent does not support mode switching")
			}
			return nil, huma.Error500InternalServerError("failed to set session mode", err)
		}

		return nil, nil
	})
}
