// Package acp implements the client side of the Agent Client Protocol:
// wire types and a JSON-RPC 2.0 connection speaking newline-delimited JSON
// over any byte stream. The connection issues outbound requests to the
// agent and dispatches the agent's inbound notifications and requests to a
// caller-supplied Handler.
package acp

import "encoding/json"

// ProtocolVersion is the ACP revision this client speaks.
const ProtocolVersion = "0.1.0"

// ClientCapabilities advertises what the client offers to the agent.
type ClientCapabilities struct {
	FS *FileSystemCapabilities `json:"fs,omitempty"`
}

// FileSystemCapabilities lists supported client-side file operations.
type FileSystemCapabilities struct {
	ReadTextFile  bool `json:"readTextFile,omitempty"`
	WriteTextFile bool `json:"writeTextFile,omitempty"`
}

// AgentCapabilities is the fixed capability record captured at handshake
// time. Optional operations are gated on these flags instead of probing
// for method support at call time.
type AgentCapabilities struct {
	LoadSession    bool `json:"loadSession,omitempty"`
	ListSessions   bool `json:"listSessions,omitempty"`
	ForkSession    bool `json:"forkSession,omitempty"`
	ResumeSession  bool `json:"resumeSession,omitempty"`
	SetSessionMode bool `json:"setSessionMode,omitempty"`
}

type InitializeRequest struct {
	ProtocolVersion    string             `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
}

type InitializeResponse struct {
	ProtocolVersion   string            `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
}

// McpServer describes an MCP server the agent should launch for a session.
type McpServer struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// SessionMode is one of the agent's selectable operating modes.
type SessionMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SessionModeState carries the agent's mode inventory for a session.
type SessionModeState struct {
	CurrentModeID  string        `json:"currentModeId"`
	AvailableModes []SessionMode `json:"availableModes,omitempty"`
}

// SessionInfo is the agent's own record of a session.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
}

// AvailableCommand is a slash-command the agent exposes for a session.
type AvailableCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type NewSessionRequest struct {
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

type NewSessionResponse struct {
	SessionID string            `json:"sessionId"`
	Modes     *SessionModeState `json:"modes,omitempty"`
}

type LoadSessionRequest struct {
	SessionID  string      `json:"sessionId"`
	Cwd        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

type LoadSessionResponse struct {
	Modes *SessionModeState `json:"modes,omitempty"`
}

type ListSessionsRequest struct {
	Cursor string `json:"cursor,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

type ForkSessionRequest struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

type ForkSessionResponse struct {
	SessionID string            `json:"sessionId"`
	Modes     *SessionModeState `json:"modes,omitempty"`
}

type ResumeSessionRequest struct {
	SessionID string `json:"sessionId"`
	Cwd       string `json:"cwd"`
}

type ResumeSessionResponse struct {
	Modes *SessionModeState `json:"modes,omitempty"`
}

type SetSessionModeRequest struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

type SetSessionModeResponse struct{}

// ContentBlock is a single piece of prompt or response content. Only text
// blocks are produced by this layer.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type PromptRequest struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

type PromptResponse struct {
	StopReason string `json:"stopReason,omitempty"`
}

// CancelNotification aborts the in-flight turn for a session. Sent as a
// JSON-RPC notification; the agent does not reply.
type CancelNotification struct {
	SessionID string `json:"sessionId"`
}

// Session update kinds carried by SessionNotification.
const (
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateUserMessageChunk  = "user_message_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdatePlan              = "plan"
	UpdateAvailableCommands = "available_commands_update"
	UpdateCurrentMode       = "current_mode_update"
	UpdateSessionInfo       = "session_info_update"
)

// Tool call statuses reported by the agent.
const (
	ToolCallPending    = "pending"
	ToolCallInProgress = "in_progress"
	ToolCallCompleted  = "completed"
	ToolCallFailed     = "failed"
)

// ToolCallLocation points at a file the tool call touches.
type ToolCallLocation struct {
	Path string `json:"path"`
	Line int    `json:"line,omitempty"`
}

// PlanEntry is one step of an agent-reported execution plan.
type PlanEntry struct {
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// SessionUpdate is the inbound event union. Kind selects which fields are
// populated; Content is raw because its shape differs per kind (a single
// content block for message chunks, a block list for tool call updates).
type SessionUpdate struct {
	Kind string `json:"sessionUpdate"`

	// agent_message_chunk / agent_thought_chunk / user_message_chunk
	MessageID string          `json:"messageId,omitempty"`
	Start     bool            `json:"start,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	// tool_call / tool_call_update
	ToolCallID   string             `json:"toolCallId,omitempty"`
	ToolCallName string             `json:"toolCallName,omitempty"`
	Status       string             `json:"status,omitempty"`
	RawOutput    map[string]any     `json:"rawOutput,omitempty"`
	Locations    []ToolCallLocation `json:"locations,omitempty"`

	// plan
	Title   string      `json:"title,omitempty"`
	Entries []PlanEntry `json:"entries,omitempty"`

	// metadata updates
	AvailableCommands []AvailableCommand `json:"availableCommands,omitempty"`
	CurrentModeID     string             `json:"currentModeId,omitempty"`
	SessionInfo       *SessionInfo       `json:"sessionInfo,omitempty"`
}

// ContentText decodes Content as a single text block and returns its text.
// Returns "" for non-text or absent content.
func (u *SessionUpdate) ContentText() string {
	if len(u.Content) == 0 {
		return ""
	}
	var block ContentBlock
	if err := json.Unmarshal(u.Content, &block); err != nil {
		return ""
	}
	if block.Type != "text" {
		return ""
	}
	return block.Text
}

// ContentBlocks decodes Content as a block list (tool_call_update shape).
func (u *SessionUpdate) ContentBlocks() []ContentBlock {
	if len(u.Content) == 0 {
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(u.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// SessionNotification is the session/update notification envelope.
type SessionNotification struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

// Permission outcomes.
const (
	OutcomeSelected  = "selected"
	OutcomeCancelled = "cancelled"
)

// PermissionOption is one choice the agent offers for a permission request.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"` // allow_once, allow_always, reject_once, reject_always
}

// PermissionToolCall identifies the tool call awaiting authorization.
type PermissionToolCall struct {
	ToolCallID string         `json:"toolCallId"`
	Title      string         `json:"title,omitempty"`
	RawInput   map[string]any `json:"rawInput,omitempty"`
}

type RequestPermissionRequest struct {
	SessionID string             `json:"sessionId"`
	ToolCall  PermissionToolCall `json:"toolCall"`
	Options   []PermissionOption `json:"options,omitempty"`
}

type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

type RequestPermissionResponse struct {
	Outcome PermissionOutcome `json:"outcome"`
}
