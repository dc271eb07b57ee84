// Package conn composes the transport manager with an ACP client
// connection: it translates inbound protocol notifications into the
// generic chunk vocabulary, arbitrates permission requests through
// deferred handles, and exposes the outbound RPC surface.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/acplink/internal/acp"
	"github.com/gosuda/acplink/internal/syncutil"
	"github.com/gosuda/acplink/internal/transport"
)

var (
	// ErrNotConnected reports an RPC attempted with no live protocol client.
	ErrNotConnected = errors.New("conn: not connected")

	// ErrUnsupported reports an operation the agent did not advertise.
	ErrUnsupported = errors.New("conn: operation not supported by agent")

	// ErrConnectionClosed settles pending permission handles on disconnect
	// so callers awaiting a decision observe a clean rejection instead of
	// hanging.
	ErrConnectionClosed = errors.New("conn: connection closed")
)

// PendingPermission is an inbound authorization request awaiting an
// out-of-band decision, identified for later resolution.
type PendingPermission struct {
	PermissionID string                       `json:"permissionId"`
	Request      acp.RequestPermissionRequest `json:"request"`
}

// Options configures a Connection.
type Options struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	OnStateChange       func(transport.State)
	OnPermissionRequest func(PendingPermission)
	OnError             func(error)

	// Dialer overrides the websocket dialer, used by tests.
	Dialer transport.Dialer
}

// Connection owns one ACP client bound to one transport manager.
type Connection struct {
	opts    Options
	manager *transport.Manager
	stream  *ChunkStream

	mu               sync.Mutex
	client           *acp.Conn
	initialized      bool
	caps             acp.AgentCapabilities
	commands         []acp.AvailableCommand
	currentModeID    string
	sessions         []acp.SessionInfo
	currentMessageID string
	pending          map[string]*syncutil.Deferred[*acp.RequestPermissionResponse]
	aggregator       *ToolCallAggregator
}

// New creates a Connection. It does not dial until Connect.
func New(opts Options) *Connection {
	c := &Connection{
		opts:       opts,
		stream:     NewChunkStream(),
		pending:    make(map[string]*syncutil.Deferred[*acp.RequestPermissionResponse]),
		aggregator: NewToolCallAggregator(),
	}
	c.manager = transport.NewManager(transport.Options{
		URL:               opts.URL,
		ReconnectAttempts: opts.ReconnectAttempts,
		ReconnectDelay:    opts.ReconnectDelay,
		OnStateChange:     opts.OnStateChange,
		OnError:           opts.OnError,
		OnReconnect:       c.handleReconnect,
		Dialer:            opts.Dialer,
	})
	return c
}

// Connect establishes the transport and attaches a fresh protocol client.
func (c *Connection) Connect(ctx context.Context) error {
	stream, err := c.manager.Connect(ctx)
	if err != nil {
		return fmt.Errorf("conn.Connection.Connect: %w", err)
	}
	c.attachClient(stream)
	return nil
}

// Initialize performs the protocol handshake and captures the agent's
// capability record. Optional operations are gated on these flags from
// here on.
func (c *Connection) Initialize(ctx context.Context) error {
	client, err := c.liveClient()
	if err != nil {
		return fmt.Errorf("conn.Connection.Initialize: %w", err)
	}

	resp, err := client.Initialize(ctx, &acp.InitializeRequest{
		ProtocolVersion:    acp.ProtocolVersion,
		ClientCapabilities: acp.ClientCapabilities{},
	})
	if err != nil {
		return fmt.Errorf("conn.Connection.Initialize: %w", err)
	}

	c.mu.Lock()
	c.caps = resp.AgentCapabilities
	c.initialized = true
	c.mu.Unlock()
	return nil
}

// Disconnect tears down the transport and clears per-connection state:
// tool call records are dropped, and every pending permission handle is
// rejected with ErrConnectionClosed.
func (c *Connection) Disconnect() {
	c.manager.Disconnect()

	c.mu.Lock()
	client := c.client
	c.client = nil
	c.initialized = false
	c.currentMessageID = ""
	c.aggregator.Clear()
	pending := c.pending
	c.pending = make(map[string]*syncutil.Deferred[*acp.RequestPermissionResponse])
	c.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	for _, deferred := range pending {
		deferred.Reject(ErrConnectionClosed)
	}
	c.stream.Close()
}

// Reconnect is a manual disconnect followed by a fresh connect.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.Disconnect()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Initialize(ctx)
}

// State returns the transport state snapshot.
func (c *Connection) State() transport.State {
	return c.manager.State()
}

// Stream returns the pull side of the push-to-pull bridge.
func (c *Connection) Stream() *ChunkStream {
	return c.stream
}

// CloseStream wakes a suspended puller with the end-of-stream signal.
func (c *Connection) CloseStream() {
	c.stream.Close()
}

// FailStream delivers a terminal error to the puller once queued chunks
// drain.
func (c *Connection) FailStream(err error) {
	c.stream.fail(err)
}

// Capabilities returns the capability record captured at handshake.
func (c *Connection) Capabilities() acp.AgentCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// AvailableCommands returns the agent's latest advertised command list.
func (c *Connection) AvailableCommands() []acp.AvailableCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]acp.AvailableCommand(nil), c.commands...)
}

// CurrentModeID returns the agent-reported current session mode.
func (c *Connection) CurrentModeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentModeID
}

// SessionInfos returns the session records the agent has pushed since
// connect, in first-seen order.
func (c *Connection) SessionInfos() []acp.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]acp.SessionInfo(nil), c.sessions...)
}

// ToolCalls returns snapshots of every aggregated tool call record.
func (c *Connection) ToolCalls() []ToolCallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregator.All()
}

// ToolCall returns a snapshot of one aggregated record.
func (c *Connection) ToolCall(toolCallID string) (ToolCallRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregator.Get(toolCallID)
}

// PendingPermissionCount reports how many permission decisions are
// outstanding.
func (c *Connection) PendingPermissionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ResolvePermission settles a pending permission with the given response.
// Unknown ids are a silent no-op: the decision arrived too late.
func (c *Connection) ResolvePermission(permissionID string, resp *acp.RequestPermissionResponse) {
	c.mu.Lock()
	deferred, ok := c.pending[permissionID]
	if ok {
		delete(c.pending, permissionID)
	}
	c.mu.Unlock()

	if ok {
		deferred.Resolve(resp)
	}
}

// RejectPermission settles a pending permission with an error. Unknown ids
// are a silent no-op.
func (c *Connection) RejectPermission(permissionID string, err error) {
	c.mu.Lock()
	deferred, ok := c.pending[permissionID]
	if ok {
		delete(c.pending, permissionID)
	}
	c.mu.Unlock()

	if ok {
		deferred.Reject(err)
	}
}

// Outbound RPC surface. Each wrapper fails with ErrNotConnected before the
// handshake and with ErrUnsupported when the agent lacks the capability.

func (c *Connection) NewSession(ctx context.Context, req *acp.NewSessionRequest) (*acp.NewSessionResponse, error) {
	client, err := c.liveClient()
	if err != nil {
		return nil, fmt.Errorf("conn.Connection.NewSession: %w", err)
	}
	return client.NewSession(ctx, req)
}

func (c *Connection) LoadSession(ctx context.Context, req *acp.LoadSessionRequest) (*acp.LoadSessionResponse, error) {
	client, err := c.capableClient(func(caps acp.AgentCapabilities) bool { return caps.LoadSession })
	if err != nil {
		return nil, fmt.Errorf("conn.Connection.LoadSession: %w", err)
	}
	return client.LoadSession(ctx, req)
}

func (c *Connection) ListSessions(ctx context.Context, req *acp.ListSessionsRequest) (*acp.ListSessionsResponse, error) {
	client, err := c.capableClient(func(caps acp.AgentCapabilities) bool { return caps.ListSessions })
	if err != nil {
		return nil, fmt.Errorf("conn.Connection.ListSessions: %w", err)
	}
	return client.ListSessions(ctx, req)
}

func (c *Connection) ForkSession(ctx context.Context, req *acp.ForkSessionRequest) (*acp.ForkSessionResponse, error) {
	client, err := c.capableClient(func(caps acp.AgentCapabilities) bool { return caps.ForkSession })
	if err != nil {
		return nil, fmt.Errorf("conn.Connection.ForkSession: %w", err)
	}
	return client.ForkSession(ctx, req)
}

func (c *Connection) ResumeSession(ctx context.Context, req *acp.ResumeSessionRequest) (*acp.ResumeSessionResponse, error) {
	client, err := c.capableClient(func(caps acp.AgentCapabilities) bool { return caps.ResumeSession })
	if err != nil {
		return nil, fmt.Errorf("conn.Connection.ResumeSession: %w", err)
	}
	return client.ResumeSession(ctx, req)
}

func (c *Connection) SetSessionMode(ctx context.Context, req *acp.SetSessionModeRequest) (*acp.SetSessionModeResponse, error) {
	client, err := c.capableClient(func(caps acp.AgentCapabilities) bool { return caps.SetSessionMode })
	if err != nil {
		return nil, fmt.Errorf("conn.Connection.SetSessionMode: %w", err)
	}
	return client.SetSessionMode(ctx, req)
}

func (c *Connection) Prompt(ctx context.Context, req *acp.PromptRequest) (*acp.PromptResponse, error) {
	client, err := c.liveClient()
	if err != nil {
		return nil, fmt.Errorf("conn.Connection.Prompt: %w", err)
	}
	return client.Prompt(ctx, req)
}

// Cancel sends the best-effort cancel notification for a session.
func (c *Connection) Cancel(ctx context.Context, sessionID string) error {
	client, err := c.liveClient()
	if err != nil {
		return fmt.Errorf("conn.Connection.Cancel: %w", err)
	}
	return client.Cancel(ctx, &acp.CancelNotification{SessionID: sessionID})
}

func (c *Connection) liveClient() (*acp.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

func (c *Connection) capableClient(has func(acp.AgentCapabilities) bool) (*acp.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	if c.initialized && !has(c.caps) {
		return nil, ErrUnsupported
	}
	return c.client, nil
}

func (c *Connection) attachClient(stream io.ReadWriteCloser) {
	client := acp.NewConn(stream, clientHandler{c}, c.manager.HandleClose)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
}

// handleReconnect rebuilds the protocol client on the fresh stream after
// an automatic reconnection and replays the handshake.
func (c *Connection) handleReconnect(stream io.ReadWriteCloser) {
	c.attachClient(stream)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Initialize(ctx); err != nil {
		log.Error().Err(err).Str("url", c.opts.URL).Msg("conn: handshake after reconnect failed")
	}
}

// clientHandler adapts the Connection to the acp.Handler callback table.
type clientHandler struct {
	conn *Connection
}

func (h clientHandler) SessionUpdate(_ context.Context, note *acp.SessionNotification) {
	h.conn.handleSessionUpdate(note)
}

func (h clientHandler) RequestPermission(ctx context.Context, req *acp.RequestPermissionRequest) (*acp.RequestPermissionResponse, error) {
	return h.conn.handleRequestPermission(ctx, req)
}

// handleSessionUpdate is the single dispatch point for inbound updates:
// metadata kinds mutate cached state, content kinds become chunks.
func (c *Connection) handleSessionUpdate(note *acp.SessionNotification) {
	update := &note.Update

	c.mu.Lock()
	switch update.Kind {
	case acp.UpdateAvailableCommands:
		c.commands = update.AvailableCommands
	case acp.UpdateCurrentMode:
		c.currentModeID = update.CurrentModeID
	case acp.UpdateSessionInfo:
		if update.SessionInfo != nil {
			c.upsertSessionInfo(*update.SessionInfo)
		}
	}
	chunks := c.mapUpdate(update)
	c.mu.Unlock()

	for _, chunk := range chunks {
		c.stream.produce(chunk)
	}
}

// handleRequestPermission suspends the protocol reply behind a deferred
// handle until an out-of-band decision settles it. The suspension is
// intentionally unbounded; timeouts are a caller concern.
func (c *Connection) handleRequestPermission(ctx context.Context, req *acp.RequestPermissionRequest) (*acp.RequestPermissionResponse, error) {
	permissionID := uuid.NewString()
	deferred := syncutil.NewDeferred[*acp.RequestPermissionResponse]()

	c.mu.Lock()
	c.pending[permissionID] = deferred
	c.mu.Unlock()

	if c.opts.OnPermissionRequest != nil {
		c.opts.OnPermissionRequest(PendingPermission{PermissionID: permissionID, Request: *req})
	}

	resp, err := deferred.Await(ctx)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// mapUpdate translates one inbound update into zero or more chunks.
// Caller holds c.mu.
func (c *Connection) mapUpdate(update *acp.SessionUpdate) []Chunk {
	switch update.Kind {
	case acp.UpdateAgentMessageChunk:
		messageID := update.MessageID
		if messageID == "" {
			messageID = c.currentMessageID
		}
		if messageID == "" {
			messageID = uuid.NewString()
		}
		if update.Start || messageID != c.currentMessageID {
			c.currentMessageID = messageID
		}
		return []Chunk{{Type: ChunkTextDelta, ID: messageID, Delta: update.ContentText()}}

	case acp.UpdateAgentThoughtChunk:
		messageID := update.MessageID
		if messageID == "" {
			messageID = uuid.NewString()
		}
		return []Chunk{{Type: ChunkReasoningDelta, ID: messageID, Reasoning: update.ContentText()}}

	case acp.UpdateToolCall:
		if _, err := c.aggregator.Start(update.ToolCallID, update.ToolCallName); err != nil {
			log.Warn().Err(err).Str("tool_call_id", update.ToolCallID).Msg("conn: dropping anomalous tool call start")
			return nil
		}
		return []Chunk{{
			Type:       ChunkToolCall,
			ID:         update.ToolCallID,
			ToolCallID: update.ToolCallID,
			ToolName:   update.ToolCallName,
		}}

	case acp.UpdateToolCallUpdate:
		record, err := c.aggregator.Update(update.ToolCallID, ToolCallUpdate{
			Status:    update.Status,
			RawOutput: update.RawOutput,
			Locations: update.Locations,
			Content:   update.ContentBlocks(),
		})
		if err != nil {
			log.Warn().Err(err).Str("tool_call_id", update.ToolCallID).Msg("conn: dropping anomalous tool call update")
			return nil
		}

		chunks := []Chunk{{
			Type:       ChunkToolCall,
			ID:         update.ToolCallID,
			ToolCallID: update.ToolCallID,
			ToolName:   record.ToolName,
			Args:       marshalArgs(record.Args),
		}}
		if update.Status == acp.ToolCallCompleted || update.Status == acp.ToolCallFailed {
			chunks = append(chunks, Chunk{
				Type:       ChunkToolResult,
				ID:         update.ToolCallID + "-result",
				ToolCallID: update.ToolCallID,
				Result:     update.RawOutput,
			})
		}
		return chunks

	case acp.UpdatePlan:
		// Plans are flattened into one reasoning chunk: title plus entry
		// bullets, not a 1:1 passthrough.
		text := "Plan: " + update.Title
		for _, entry := range update.Entries {
			text += "\n- " + entry.Description
		}
		return []Chunk{{Type: ChunkReasoningDelta, ID: uuid.NewString(), Reasoning: text}}

	case acp.UpdateUserMessageChunk:
		// Echo of our own prompt; not surfaced.
		return nil

	case acp.UpdateAvailableCommands, acp.UpdateCurrentMode, acp.UpdateSessionInfo:
		return []Chunk{{Type: ChunkData, Data: dataPayload(update)}}

	default:
		log.Debug().Str("kind", update.Kind).Msg("conn: ignoring unknown session update kind")
		return nil
	}
}

func (c *Connection) upsertSessionInfo(info acp.SessionInfo) {
	for i := range c.sessions {
		if c.sessions[i].SessionID == info.SessionID {
			c.sessions[i] = info
			return
		}
	}
	c.sessions = append(c.sessions, info)
}

func dataPayload(update *acp.SessionUpdate) map[string]any {
	payload := map[string]any{"type": update.Kind}
	switch update.Kind {
	case acp.UpdateAvailableCommands:
		payload["availableCommands"] = update.AvailableCommands
	case acp.UpdateCurrentMode:
		payload["currentModeId"] = update.CurrentModeID
	case acp.UpdateSessionInfo:
		payload["sessionInfo"] = update.SessionInfo
	}
	return payload
}

func marshalArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
