// Package session persists conversation history and metadata for agent
// sessions and orchestrates their lifecycle against a protocol connection.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrSessionNotFound reports a lookup for an id the store does not hold.
var ErrSessionNotFound = errors.New("session: not found")

const (
	// titleLimit caps derived session titles.
	titleLimit = 30
	// previewLimit caps the stored last-message preview.
	previewLimit = 100
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one persisted conversation entry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Metadata is the listing-level record of a session.
type Metadata struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
	MessageCount       int       `json:"messageCount"`
	AgentName          string    `json:"agentName,omitempty"`
	WsURL              string    `json:"wsUrl,omitempty"`
	ModeID             string    `json:"modeId,omitempty"`
	ModelID            string    `json:"modelId,omitempty"`
	LastMessagePreview string    `json:"lastMessagePreview,omitempty"`
}

// Data is a full session record: metadata plus ordered history.
type Data struct {
	Metadata Metadata  `json:"metadata"`
	Messages []Message `json:"messages"`
}

// Store persists sessions. Implementations must derive the title from the
// first user message and refresh the preview from the latest one on every
// append.
type Store interface {
	Create(ctx context.Context, data *Data) error
	Get(ctx context.Context, id string) (*Data, error)
	List(ctx context.Context) ([]Metadata, error)
	Delete(ctx context.Context, id string) error

	// AppendMessage adds one message, bumps the message count and
	// UpdatedAt, and rederives title and preview. An unknown sessionID is
	// a no-op: messages may arrive after their session was torn down.
	AppendMessage(ctx context.Context, sessionID string, msg Message) error

	// ClearMessages drops a session's history: messages removed, count
	// zeroed, preview cleared. Title and timestamps are untouched. An
	// unknown id is a no-op.
	ClearMessages(ctx context.Context, id string) error

	// UpdateMetadata overwrites mutable metadata fields (title, agent
	// name, ws url, mode, model) without touching history.
	UpdateMetadata(ctx context.Context, meta Metadata) error

	// Copy writes a new session under newID carrying the source's full
	// history with titleSuffix appended to the source title. Fork and
	// duplicate differ only in who assigns newID and which suffix is used.
	Copy(ctx context.Context, sourceID, newID, titleSuffix string) (*Data, error)
}

// DeriveTitle produces a listing title from the first user message: the
// first 30 characters, trimmed, with an ellipsis when truncated.
func DeriveTitle(text string) string {
	if text == "" {
		return "New Session"
	}
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(string(runes[:titleLimit])) + "..."
}

// DerivePreview produces the stored last-message preview: the first 100
// characters of the given text.
func DerivePreview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return text
	}
	return string(runes[:previewLimit])
}

// copySuffix values used by fork and duplicate.
const (
	ForkSuffix      = " (Fork)"
	DuplicateSuffix = " (Copy)"
)

// refreshDerived recomputes derived metadata after history changes.
// The title is set once, from the first user message; fork and duplicate
// copies keep their suffixed titles. Shared by store implementations.
func refreshDerived(data *Data) {
	data.Metadata.MessageCount = len(data.Messages)
	if data.Metadata.Title == "" || data.Metadata.Title == "New Session" {
		for _, msg := range data.Messages {
			if msg.Role == RoleUser {
				data.Metadata.Title = DeriveTitle(msg.Content)
				break
			}
		}
	}
	for i := len(data.Messages) - 1; i >= 0; i-- {
		if data.Messages[i].Role == RoleUser {
			data.Metadata.LastMessagePreview = DerivePreview(data.Messages[i].Content)
			break
		}
	}
}
