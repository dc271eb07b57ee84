package v1_test

import (
	"context"

	"github.com/gosuda/acplink/internal/acp"
	"github.com/gosuda/acplink/internal/conn"
	"github.com/gosuda/acplink/internal/session"
)

// ---------------------------------------------------------------------------
// Mock Orchestrator
// ---------------------------------------------------------------------------

type mockOrchestrator struct {
	connectFunc    func(ctx context.Context, wsURL string, opts session.ConnectOptions) error
	reconnectFunc  func(ctx context.Context) error
	disconnectFunc func()
	status         session.Status
	agentURL       string
	capabilities   acp.AgentCapabilities
	toolCalls      []conn.ToolCallRecord

	createSessionFunc    func(ctx context.Context, cwd string) (*session.Data, error)
	loadSessionFunc      func(ctx context.Context, id, cwd string) (*session.Data, error)
	listSessionsFunc     func(ctx context.Context) ([]session.Metadata, error)
	deleteSessionFunc    func(ctx context.Context, id string) error
	forkSessionFunc      func(ctx context.Context, id, cwd string) (*session.Data, error)
	duplicateSessionFunc func(ctx context.Context, id string) (*session.Data, error)
	setSessionModeFunc   func(ctx context.Context, id, modeID string) error

	resolvePermissionFunc func(permissionID string, resp *acp.RequestPermissionResponse) error
	rejectPermissionFunc  func(permissionID string, cause error) error
}

func (m *mockOrchestrator) Connect(ctx context.Context, wsURL string, opts session.ConnectOptions) error {
	return m.connectFunc(ctx, wsURL, opts)
}

func (m *mockOrchestrator) Reconnect(ctx context.Context) error {
	return m.reconnectFunc(ctx)
}

func (m *mockOrchestrator) Disconnect() {
	if m.disconnectFunc != nil {
		m.disconnectFunc()
	}
}

func (m *mockOrchestrator) Status() session.Status { return m.status }

func (m *mockOrchestrator) AgentURL() string { return m.agentURL }

func (m *mockOrchestrator) Capabilities() acp.AgentCapabilities { return m.capabilities }

func (m *mockOrchestrator) ToolCalls() []conn.ToolCallRecord { return m.toolCalls }

func (m *mockOrchestrator) CreateSession(ctx context.Context, cwd string) (*session.Data, error) {
	return m.createSessionFunc(ctx, cwd)
}

func (m *mockOrchestrator) LoadSession(ctx context.Context, id, cwd string) (*session.Data, error) {
	return m.loadSessionFunc(ctx, id, cwd)
}

func (m *mockOrchestrator) ListSessions(ctx context.Context) ([]session.Metadata, error) {
	return m.listSessionsFunc(ctx)
}

func (m *mockOrchestrator) DeleteSession(ctx context.Context, id string) error {
	return m.deleteSessionFunc(ctx, id)
}

func (m *mockOrchestrator) ForkSession(ctx context.Context, id, cwd string) (*session.Data, error) {
	return m.forkSessionFunc(ctx, id, cwd)
}

func (m *mockOrchestrator) DuplicateSession(ctx context.Context, id string) (*session.Data, error) {
	return m.duplicateSessionFunc(ctx, id)
}

func (m *mockOrchestrator) SetSessionMode(ctx context.Context, id, modeID string) error {
	return m.setSessionModeFunc(ctx, id, modeID)
}

func (m *mockOrchestrator) ResolvePermission(permissionID string, resp *acp.RequestPermissionResponse) error {
	return m.resolvePermissionFunc(permissionID, resp)
}

func (m *mockOrchestrator) RejectPermission(permissionID string, cause error) error {
	return m.rejectPermissionFunc(permissionID, cause)
}

// ---------------------------------------------------------------------------
// Mock PromptRunner
// ---------------------------------------------------------------------------

type mockPromptRunner struct {
	runPromptFunc func(ctx context.Context, sessionID, cwd, content string) (string, error)
}

func (m *mockPromptRunner) RunPrompt(ctx context.Context, sessionID, cwd, content string) (string, error) {
	return m.runPromptFunc(ctx, sessionID, cwd, content)
}
