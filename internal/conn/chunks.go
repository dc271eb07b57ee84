package conn

// ChunkType tags one unit of the generic streamed-output vocabulary.
type ChunkType string

const (
	ChunkTextDelta      ChunkType = "text-delta"
	ChunkReasoningDelta ChunkType = "reasoning-delta"
	ChunkToolCall       ChunkType = "tool-call"
	ChunkToolResult     ChunkType = "tool-result"
	ChunkData           ChunkType = "data"
)

// Chunk is one streamed unit delivered to a consumer. ID correlates deltas
// belonging to the same logical unit (all deltas of one assistant message
// share an id). Chunks are transient: this layer never persists them.
type Chunk struct {
	Type ChunkType `json:"type"`
	ID   string    `json:"id,omitempty"`

	// text-delta
	Delta string `json:"delta,omitempty"`

	// reasoning-delta
	Reasoning string `json:"reasoning,omitempty"`

	// tool-call / tool-result
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Args       string         `json:"args,omitempty"`
	Result     map[string]any `json:"result,omitempty"`

	// data
	Data map[string]any `json:"data,omitempty"`
}
