package conn

import (
	"errors"
	"fmt"
	"maps"

	"github.com/gosuda/acplink/internal/acp"
)

// ErrDuplicateToolCall reports a start event for an id that is already
// being tracked. Callers treat it as a protocol anomaly, not a crash.
var ErrDuplicateToolCall = errors.New("conn: duplicate tool call")

// ErrUnknownToolCall reports an update for an id with no prior start.
var ErrUnknownToolCall = errors.New("conn: unknown tool call")

// ToolCallRecord is the aggregated state of one tool invocation.
type ToolCallRecord struct {
	ToolCallID string                 `json:"toolCallId"`
	ToolName   string                 `json:"toolName"`
	Status     string                 `json:"status"`
	Args       map[string]any         `json:"args"`
	Result     map[string]any         `json:"result,omitempty"`
	Locations  []acp.ToolCallLocation `json:"locations,omitempty"`
	Content    []acp.ContentBlock     `json:"content,omitempty"`
}

// ToolCallUpdate is one partial update to merge into a record.
type ToolCallUpdate struct {
	Status    string
	RawOutput map[string]any
	Locations []acp.ToolCallLocation
	Content   []acp.ContentBlock
}

// ToolCallAggregator reassembles the agent's start/update event sequence
// into coherent records. It is mutated only from the single notification
// dispatch flow, so it carries no lock of its own.
type ToolCallAggregator struct {
	calls map[string]*ToolCallRecord
	order []string
}

func NewToolCallAggregator() *ToolCallAggregator {
	return &ToolCallAggregator{calls: make(map[string]*ToolCallRecord)}
}

// Start creates a record with status pending and empty args.
func (a *ToolCallAggregator) Start(toolCallID, toolName string) (ToolCallRecord, error) {
	if _, exists := a.calls[toolCallID]; exists {
		return ToolCallRecord{}, fmt.Errorf("ToolCallAggregator.Start %s: %w", toolCallID, ErrDuplicateToolCall)
	}

	record := &ToolCallRecord{
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Status:     acp.ToolCallPending,
		Args:       make(map[string]any),
	}
	a.calls[toolCallID] = record
	a.order = append(a.order, toolCallID)
	return *record, nil
}

// Update merges a partial update: status replaced if present, args
// shallow-merged (new keys overwrite), locations/content replaced if
// present since they are latest snapshots, not deltas. A completed or
// failed update also captures the final raw output as the result.
func (a *ToolCallAggregator) Update(toolCallID string, update ToolCallUpdate) (ToolCallRecord, error) {
	record, exists := a.calls[toolCallID]
	if !exists {
		return ToolCallRecord{}, fmt.Errorf("ToolCallAggregator.Update %s: %w", toolCallID, ErrUnknownToolCall)
	}

	if update.Status != "" {
		record.Status = update.Status
	}
	maps.Copy(record.Args, update.RawOutput)
	if update.Locations != nil {
		record.Locations = update.Locations
	}
	if update.Content != nil {
		record.Content = update.Content
	}
	if record.Status == acp.ToolCallCompleted || record.Status == acp.ToolCallFailed {
		if update.RawOutput != nil {
			record.Result = update.RawOutput
		}
	}

	return snapshot(record), nil
}

// Get returns a snapshot of one record.
func (a *ToolCallAggregator) Get(toolCallID string) (ToolCallRecord, bool) {
	record, exists := a.calls[toolCallID]
	if !exists {
		return ToolCallRecord{}, false
	}
	return snapshot(record), true
}

// All returns snapshots of every record in start order.
func (a *ToolCallAggregator) All() []ToolCallRecord {
	out := make([]ToolCallRecord, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, snapshot(a.calls[id]))
	}
	return out
}

// Clear drops all records. Invoked on disconnect.
func (a *ToolCallAggregator) Clear() {
	a.calls = make(map[string]*ToolCallRecord)
	a.order = nil
}

func snapshot(record *ToolCallRecord) ToolCallRecord {
	out := *record
	out.Args = maps.Clone(record.Args)
	out.Result = maps.Clone(record.Result)
	return out
}
