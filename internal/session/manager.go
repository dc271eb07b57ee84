package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/acplink/internal/acp"
	"github.com/gosuda/acplink/internal/conn"
	"github.com/gosuda/acplink/internal/transport"
)

// Status is the orchestrator's coarse lifecycle state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusDisconnected Status = "disconnected"
)

// Lifecycle carries optional observer callbacks. All fields may be nil.
// Callbacks are invoked without internal locks held.
type Lifecycle struct {
	OnStatusChange      func(Status)
	OnSessionCreated    func(Metadata)
	OnSessionDeleted    func(id string)
	OnPermissionRequest func(conn.PendingPermission)
	OnError             func(error)
}

// Manager orchestrates session lifecycle: it owns the protocol connection,
// keeps the store as the source of truth for history, and never mutates
// persisted state speculatively — remote operations succeed first.
type Manager struct {
	store     Store
	lifecycle Lifecycle

	mu       sync.Mutex
	conn     *conn.Connection
	status   Status
	wsURL    string
	lastOpts ConnectOptions
}

func NewManager(store Store, lifecycle Lifecycle) *Manager {
	return &Manager{store: store, lifecycle: lifecycle, status: StatusIdle}
}

// ConnectOptions tunes the underlying transport. Zero values take the
// transport defaults.
type ConnectOptions struct {
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// Dialer overrides the websocket dialer, used by tests.
	Dialer transport.Dialer
}

// Connect dials the agent endpoint and performs the handshake. The
// previous connection, if any, is torn down first.
func (m *Manager) Connect(ctx context.Context, wsURL string, opts ConnectOptions) error {
	m.Disconnect()

	m.setStatus(StatusConnecting)

	connection := conn.New(conn.Options{
		URL:                 wsURL,
		ReconnectAttempts:   opts.ReconnectAttempts,
		ReconnectDelay:      opts.ReconnectDelay,
		Dialer:              opts.Dialer,
		OnPermissionRequest: m.lifecycle.OnPermissionRequest,
		OnStateChange:       m.handleTransportState,
		OnError:             m.lifecycle.OnError,
	})

	if err := connection.Connect(ctx); err != nil {
		// Tear the connection down so the transport's retry cycle cannot
		// resurrect it behind the manager's back.
		connection.Disconnect()
		m.setStatus(StatusError)
		return fmt.Errorf("session.Manager.Connect: %w", err)
	}
	if err := connection.Initialize(ctx); err != nil {
		connection.Disconnect()
		m.setStatus(StatusError)
		return fmt.Errorf("session.Manager.Connect: %w", err)
	}

	m.mu.Lock()
	m.conn = connection
	m.wsURL = wsURL
	m.lastOpts = opts
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	return nil
}

// Reconnect tears down the current connection and dials the last
// endpoint again with the same options.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	wsURL := m.wsURL
	opts := m.lastOpts
	m.mu.Unlock()

	if wsURL == "" {
		return fmt.Errorf("session.Manager.Reconnect: %w", conn.ErrNotConnected)
	}
	return m.Connect(ctx, wsURL, opts)
}

// Disconnect tears down the current connection. No-op when idle.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	connection := m.conn
	m.conn = nil
	m.mu.Unlock()

	if connection == nil {
		return
	}
	connection.Disconnect()
	m.setStatus(StatusDisconnected)
}

// Connection returns the live protocol connection, or conn.ErrNotConnected.
func (m *Manager) Connection() (*conn.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil, conn.ErrNotConnected
	}
	return m.conn, nil
}

// Status returns the orchestrator state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// AgentURL returns the endpoint of the current connection, empty when
// disconnected.
func (m *Manager) AgentURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.wsURL
}

// Capabilities returns the connected agent's capability record; the zero
// record when disconnected.
func (m *Manager) Capabilities() acp.AgentCapabilities {
	connection, err := m.Connection()
	if err != nil {
		return acp.AgentCapabilities{}
	}
	return connection.Capabilities()
}

// ToolCalls returns the aggregated tool call records of the current
// connection.
func (m *Manager) ToolCalls() []conn.ToolCallRecord {
	connection, err := m.Connection()
	if err != nil {
		return nil
	}
	return connection.ToolCalls()
}

// CreateSession asks the agent for a fresh session and persists a record
// keyed by the agent-assigned id.
func (m *Manager) CreateSession(ctx context.Context, cwd string) (*Data, error) {
	connection, err := m.Connection()
	if err != nil {
		return nil, fmt.Errorf("session.Manager.CreateSession: %w", err)
	}

	resp, err := connection.NewSession(ctx, &acp.NewSessionRequest{Cwd: cwd, McpServers: []acp.McpServer{}})
	if err != nil {
		return nil, fmt.Errorf("session.Manager.CreateSession: %w", err)
	}

	m.mu.Lock()
	wsURL := m.wsURL
	m.mu.Unlock()

	data := &Data{Metadata: Metadata{
		ID:    resp.SessionID,
		Title: "New Session",
		WsURL: wsURL,
	}}
	if resp.Modes != nil {
		data.Metadata.ModeID = resp.Modes.CurrentModeID
	}

	if err := m.store.Create(ctx, data); err != nil {
		return nil, fmt.Errorf("session.Manager.CreateSession: %w", err)
	}

	if m.lifecycle.OnSessionCreated != nil {
		m.lifecycle.OnSessionCreated(data.Metadata)
	}
	return data, nil
}

// LoadSession fetches persisted history and, when the agent supports it,
// replays the session remotely so the agent regains its context.
func (m *Manager) LoadSession(ctx context.Context, id, cwd string) (*Data, error) {
	data, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session.Manager.LoadSession: %w", err)
	}

	connection, err := m.Connection()
	if err != nil {
		return nil, fmt.Errorf("session.Manager.LoadSession: %w", err)
	}

	if connection.Capabilities().LoadSession {
		resp, err := connection.LoadSession(ctx, &acp.LoadSessionRequest{
			SessionID: id, Cwd: cwd, McpServers: []acp.McpServer{},
		})
		if err != nil {
			return nil, fmt.Errorf("session.Manager.LoadSession: %w", err)
		}
		if resp.Modes != nil && resp.Modes.CurrentModeID != data.Metadata.ModeID {
			data.Metadata.ModeID = resp.Modes.CurrentModeID
			if err := m.store.UpdateMetadata(ctx, data.Metadata); err != nil {
				return nil, fmt.Errorf("session.Manager.LoadSession: %w", err)
			}
		}
	}

	return data, nil
}

// ListSessions returns the persisted listing, most recently updated first.
func (m *Manager) ListSessions(ctx context.Context) ([]Metadata, error) {
	out, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("session.Manager.ListSessions: %w", err)
	}
	return out, nil
}

// DeleteSession removes persisted state. The protocol has no remote
// delete; the agent's copy ages out on its own.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("session.Manager.DeleteSession: %w", err)
	}
	if m.lifecycle.OnSessionDeleted != nil {
		m.lifecycle.OnSessionDeleted(id)
	}
	return nil
}

// ForkSession forks remotely first, then copies history under the
// agent-assigned id. A remote failure leaves the store untouched.
func (m *Manager) ForkSession(ctx context.Context, id, cwd string) (*Data, error) {
	connection, err := m.Connection()
	if err != nil {
		return nil, fmt.Errorf("session.Manager.ForkSession: %w", err)
	}

	resp, err := connection.ForkSession(ctx, &acp.ForkSessionRequest{SessionID: id, Cwd: cwd})
	if err != nil {
		return nil, fmt.Errorf("session.Manager.ForkSession: %w", err)
	}

	data, err := m.store.Copy(ctx, id, resp.SessionID, ForkSuffix)
	if err != nil {
		return nil, fmt.Errorf("session.Manager.ForkSession: %w", err)
	}

	if m.lifecycle.OnSessionCreated != nil {
		m.lifecycle.OnSessionCreated(data.Metadata)
	}
	return data, nil
}

// DuplicateSession is a purely local copy under a fresh id; the agent is
// not involved.
func (m *Manager) DuplicateSession(ctx context.Context, id string) (*Data, error) {
	data, err := m.store.Copy(ctx, id, uuid.NewString(), DuplicateSuffix)
	if err != nil {
		return nil, fmt.Errorf("session.Manager.DuplicateSession: %w", err)
	}

	if m.lifecycle.OnSessionCreated != nil {
		m.lifecycle.OnSessionCreated(data.Metadata)
	}
	return data, nil
}

// SetSessionMode switches the agent's mode remotely first; the persisted
// mode is updated only after the agent confirms.
func (m *Manager) SetSessionMode(ctx context.Context, id, modeID string) error {
	connection, err := m.Connection()
	if err != nil {
		return fmt.Errorf("session.Manager.SetSessionMode: %w", err)
	}

	_, err = connection.SetSessionMode(ctx, &acp.SetSessionModeRequest{SessionID: id, ModeID: modeID})
	if err != nil {
		return fmt.Errorf("session.Manager.SetSessionMode: %w", err)
	}

	data, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("session.Manager.SetSessionMode: %w", err)
	}
	data.Metadata.ModeID = modeID
	if err := m.store.UpdateMetadata(ctx, data.Metadata); err != nil {
		return fmt.Errorf("session.Manager.SetSessionMode: %w", err)
	}

	return nil
}

// AppendMessage persists one conversation entry.
func (m *Manager) AppendMessage(ctx context.Context, sessionID, role, content string) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := m.store.AppendMessage(ctx, sessionID, msg); err != nil {
		return Message{}, fmt.Errorf("session.Manager.AppendMessage: %w", err)
	}
	return msg, nil
}

// ResolvePermission settles a pending permission decision.
func (m *Manager) ResolvePermission(permissionID string, resp *acp.RequestPermissionResponse) error {
	connection, err := m.Connection()
	if err != nil {
		return fmt.Errorf("session.Manager.ResolvePermission: %w", err)
	}
	connection.ResolvePermission(permissionID, resp)
	return nil
}

// RejectPermission settles a pending permission decision with an error.
func (m *Manager) RejectPermission(permissionID string, cause error) error {
	connection, err := m.Connection()
	if err != nil {
		return fmt.Errorf("session.Manager.RejectPermission: %w", err)
	}
	connection.RejectPermission(permissionID, cause)
	return nil
}

func (m *Manager) handleTransportState(state transport.State) {
	if state.Err != "" {
		log.Warn().Str("error", state.Err).Str("url", state.URL).Msg("session: transport error")
	}

	switch state.Status {
	case transport.StatusConnecting:
		m.setStatus(StatusConnecting)
	case transport.StatusConnected:
		m.setStatus(StatusConnected)
	case transport.StatusError:
		m.setStatus(StatusError)
	case transport.StatusDisconnected:
		m.setStatus(StatusDisconnected)
	}
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	m.mu.Unlock()

	if m.lifecycle.OnStatusChange != nil {
		m.lifecycle.OnStatusChange(status)
	}
}
