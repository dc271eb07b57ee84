package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/acplink/internal/acp"
	"github.com/gosuda/acplink/internal/conn"
	"github.com/gosuda/acplink/internal/session"
)

type ConnectInput struct {
	Body struct {
		WsURL             string `json:"ws_url" minLength:"1" doc:"WebSocket endpoint of the agent"`
		ReconnectAttempts int    `json:"reconnect_attempts,omitempty" minimum:"0" maximum:"10" doc:"Automatic reconnection attempts (default 3)"`
	}
}

type ConnectionStateBody struct {
	Status       session.Status        `json:"status"`
	WsURL        string                `json:"ws_url,omitempty"`
	Capabilities acp.AgentCapabilities `json:"capabilities"`
	ToolCalls    []conn.ToolCallRecord `json:"tool_calls,omitempty"`
}

type ConnectionStateOutput struct {
	Body ConnectionStateBody
}

func RegisterConnectionRoutes(api huma.API, orchestrator Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "connect-agent",
		Method:      http.MethodPost,
		Path:        "/connection/connect",
		Summary:     "Connect to an agent endpoint and perform the handshake",
		Tags:        []string{"Connection"},
	}, func(ctx context.Context, input *ConnectInput) (*ConnectionStateOutput, error) {
		err := orchestrator.Connect(ctx, input.Body.WsURL, session.ConnectOptions{
			ReconnectAttempts: input.Body.ReconnectAttempts,
		})
		if err != nil {
			return nil, huma.Error502BadGateway("failed to connect to agent", err)
		}

		return connectionState(orchestrator), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconnect-agent",
		Method:      http.MethodPost,
		Path:        "/connection/reconnect",
		Summary:     "Tear down the connection and dial the last endpoint again",
		Tags:        []string{"Connection"},
	}, func(ctx context.Context, _ *struct{}) (*ConnectionStateOutput, error) {
		if err := orchestrator.Reconnect(ctx); err != nil {
			if errors.Is(err, conn.ErrNotConnected) {
				return nil, huma.Error409Conflict("no previous connection to re-establish", err)
			}
			return nil, huma.Error502BadGateway("failed to reconnect to agent", err)
		}
		return connectionState(orchestrator), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "disconnect-agent",
		Method:      http.MethodPost,
		Path:        "/connection/disconnect",
		Summary:     "Disconnect from the agent",
		Tags:        []string{"Connection"},
	}, func(_ context.Context, _ *struct{}) (*ConnectionStateOutput, error) {
		orchestrator.Disconnect()
		return connectionState(orchestrator), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-connection-state",
		Method:      http.MethodGet,
		Path:        "/connection",
		Summary:     "Get connection state, agent capabilities and tool call records",
		Tags:        []string{"Connection"},
	}, func(_ context.Context, _ *struct{}) (*ConnectionStateOutput, error) {
		return connectionState(orchestrator), nil
	})
}

func connectionState(orchestrator Orchestrator) *ConnectionStateOutput {
	return &ConnectionStateOutput{Body: ConnectionStateBody{
		Status:       orchestrator.Status(),
		WsURL:        orchestrator.AgentURL(),
		Capabilities: orchestrator.Capabilities(),
		ToolCalls:    orchestrator.ToolCalls(),
	}}
}
