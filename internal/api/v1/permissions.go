package v1

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/acplink/internal/acp"
	"github.com/gosuda/acplink/internal/conn"
)

type ListPermissionsOutput struct {
	Body []conn.PendingPermission
}

type DecidePermissionInput struct {
	ID   string `path:"id" doc:"Permission request ID"`
	Body struct {
		OptionID string `json:"option_id,omitempty" doc:"Chosen option; empty cancels the request"`
	}
}

func RegisterPermissionRoutes(api huma.API, orchestrator Orchestrator, registry *PermissionRegistry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-permissions",
		Method:      http.MethodGet,
		Path:        "/permissions",
		Summary:     "List permission requests awaiting a decision",
		Tags:        []string{"Permissions"},
	}, func(_ context.Context, _ *struct{}) (*ListPermissionsOutput, error) {
		return &ListPermissionsOutput{Body: registry.List()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-permission",
		Method:      http.MethodPost,
		Path:        "/permissions/{id}/decide",
		Summary:     "Settle a pending permission request",
		Tags:        []string{"Permissions"},
	}, func(_ context.Context, input *DecidePermissionInput) (*struct{}, error) {
		outcome := acp.PermissionOutcome{Outcome: acp.OutcomeCancelled}
		if input.Body.OptionID != "" {
			outcome = acp.PermissionOutcome{Outcome: acp.OutcomeSelected, OptionID: input.Body.OptionID}
		}

		err := orchestrator.ResolvePermission(input.ID, &acp.RequestPermissionResponse{Outcome: outcome})
		if err != nil {
			return nil, huma.Error409Conflict("not connected to an agent")
		}
		registry.Remove(input.ID)

		return nil, nil
	})
}
