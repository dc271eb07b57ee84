package v1

import (
	"context"
	"sync"

	"github.com/gosuda/acplink/internal/acp"
	"github.com/gosuda/acplink/internal/conn"
	"github.com/gosuda/acplink/internal/session"
)

// Orchestrator abstracts session lifecycle operations for handler
// testing. *session.Manager satisfies this interface.
type Orchestrator interface {
	Connect(ctx context.Context, wsURL string, opts session.ConnectOptions) error
	Reconnect(ctx context.Context) error
	Disconnect()
	Status() session.Status
	AgentURL() string
	Capabilities() acp.AgentCapabilities
	ToolCalls() []conn.ToolCallRecord

	CreateSession(ctx context.Context, cwd string) (*session.Data, error)
	LoadSession(ctx context.Context, id, cwd string) (*session.Data, error)
	ListSessions(ctx context.Context) ([]session.Metadata, error)
	DeleteSession(ctx context.Context, id string) error
	ForkSession(ctx context.Context, id, cwd string) (*session.Data, error)
	DuplicateSession(ctx context.Context, id string) (*session.Data, error)
	SetSessionMode(ctx context.Context, id, modeID string) error

	ResolvePermission(permissionID string, resp *acp.RequestPermissionResponse) error
	RejectPermission(permissionID string, cause error) error
}

// PromptRunner starts a prompt turn whose chunks are fanned out over
// pub/sub rather than returned inline. *server.Gateway satisfies this
// interface.
type PromptRunner interface {
	RunPrompt(ctx context.Context, sessionID, cwd, content string) (string, error)
}

// PermissionRegistry tracks permission requests awaiting a decision so
// they can be listed over the API. Fed by the orchestrator's
// OnPermissionRequest callback; drained when a decision lands.
type PermissionRegistry struct {
	mu      sync.Mutex
	pending map[string]conn.PendingPermission
	order   []string
}

func NewPermissionRegistry() *PermissionRegistry {
	return &PermissionRegistry{pending: make(map[string]conn.PendingPermission)}
}

func (r *PermissionRegistry) Add(pending conn.PendingPermission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[pending.PermissionID]; exists {
		return
	}
	r.pending[pending.PermissionID] = pending
	r.order = append(r.order, pending.PermissionID)
}

func (r *PermissionRegistry) Remove(permissionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[permissionID]; !exists {
		return
	}
	delete(r.pending, permissionID)
	for i, id := range r.order {
		if id == permissionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// List returns pending requests in arrival order.
func (r *PermissionRegistry) List() []conn.PendingPermission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]conn.PendingPermission, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.pending[id])
	}
	return out
}

// Clear drops all pending entries, used when the connection goes away.
func (r *PermissionRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[string]conn.PendingPermission)
	r.order = nil
}
