package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/acplink/internal/conn"
	"github.com/gosuda/acplink/internal/session"
)

type PromptInput struct {
	Body struct {
		SessionID string `json:"session_id,omitempty" doc:"Session to prompt; omitted to create one on the fly"`
		Cwd       string `json:"cwd,omitempty" doc:"Working directory when a session is created on the fly"`
		Content   string `json:"content" minLength:"1" doc:"User prompt text"`
	}
}

type PromptOutput struct {
	Status int
	Body   struct {
		SessionID string `json:"session_id"`
	}
}

// RegisterPromptRoutes wires the prompt endpoint. The turn runs
// asynchronously; chunks are fanned out over the session's event channel
// and consumed via the streaming WebSocket.
func RegisterPromptRoutes(api huma.API, runner PromptRunner) {
	huma.Register(api, huma.Operation{
		OperationID: "prompt-session",
		Method:      http.MethodPost,
		Path:        "/prompt",
		Summary:     "Start a prompt turn; stream output via /ws/session/{id}",
		Tags:        []string{"Prompt"},
	}, func(ctx context.Context, input *PromptInput) (*PromptOutput, error) {
		sessionID, err := runner.RunPrompt(ctx, input.Body.SessionID, input.Body.Cwd, input.Body.Content)
		if err != nil {
			switch {
			case errors.Is(err, conn.ErrNotConnected):
				return nil, huma.Error409Conflict("not connected to an agent")
			case errors.Is(err, session.ErrSessionNotFound):
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to start prompt", err)
		}

		out := &PromptOutput{Status: http.StatusAccepted}
		out.Body.SessionID = sessionID
		return out, nil
	})
}
