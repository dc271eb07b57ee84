package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/acplink/internal/api/v1"
	"github.com/gosuda/acplink/internal/api/ws"
)

func registerAPIRoutes(api huma.API, orch v1.Orchestrator, runner v1.PromptRunner, registry *v1.PermissionRegistry) {
	v1.RegisterConnectionRoutes(api, orch)
	v1.RegisterSessionRoutes(api, orch)
	v1.RegisterPromptRoutes(api, runner)
	v1.RegisterPermissionRoutes(api, orch, registry)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/session/{sessionID}", hub.ServeSession)
	r.Get("/events", hub.ServeEvents)
}
