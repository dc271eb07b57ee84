package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/acplink/internal/acp"
	"github.com/gosuda/acplink/internal/conn"
)

// ErrTurnComplete signals the end of a prompt turn's chunk sequence.
var ErrTurnComplete = errors.New("session: turn complete")

// PromptStream is one prompt turn viewed as a pull-based chunk sequence.
// It persists the user message before the turn starts and the assembled
// assistant message when the turn completes, and guarantees at most one
// cancel notification per turn however the turn ends.
type PromptStream struct {
	manager    *Manager
	connection *conn.Connection
	sessionID  string

	cancelOnce sync.Once
	assistant  strings.Builder
	stopReason string
	finished   bool
}

// StartPrompt begins a prompt turn. An empty sessionID creates a session
// on the fly (surfaced through the OnSessionCreated callback) so a caller
// can prompt without managing sessions explicitly.
func (m *Manager) StartPrompt(ctx context.Context, sessionID, cwd, content string) (*PromptStream, error) {
	connection, err := m.Connection()
	if err != nil {
		return nil, fmt.Errorf("session.Manager.StartPrompt: %w", err)
	}

	if sessionID == "" {
		data, err := m.CreateSession(ctx, cwd)
		if err != nil {
			return nil, fmt.Errorf("session.Manager.StartPrompt: %w", err)
		}
		sessionID = data.Metadata.ID
	}

	if _, err := m.AppendMessage(ctx, sessionID, RoleUser, content); err != nil {
		return nil, fmt.Errorf("session.Manager.StartPrompt: %w", err)
	}

	stream := &PromptStream{
		manager:    m,
		connection: connection,
		sessionID:  sessionID,
	}

	// The prompt call spans the whole turn; its completion closes the
	// chunk stream so the puller observes a clean end.
	go func() {
		resp, err := connection.Prompt(context.Background(), &acp.PromptRequest{
			SessionID: sessionID,
			Prompt:    []acp.ContentBlock{{Type: "text", Text: content}},
		})
		if err != nil {
			connection.FailStream(err)
			return
		}
		stream.stopReason = resp.StopReason
		connection.CloseStream()
	}()

	return stream, nil
}

// SessionID returns the session this turn runs in, which may have been
// created on the fly.
func (s *PromptStream) SessionID() string {
	return s.sessionID
}

// StopReason returns the agent's stop reason, available once the turn
// has completed.
func (s *PromptStream) StopReason() string {
	return s.stopReason
}

// Next returns the next chunk of the turn. On normal completion it
// persists the assembled assistant message and returns ErrTurnComplete.
// A done ctx cancels the turn cooperatively: the remote turn is aborted
// best-effort and the partial assistant output is persisted.
func (s *PromptStream) Next(ctx context.Context) (conn.Chunk, error) {
	if s.finished {
		return conn.Chunk{}, ErrTurnComplete
	}

	chunk, err := s.connection.Stream().Next(ctx)
	switch {
	case err == nil:
		if chunk.Type == conn.ChunkTextDelta {
			s.assistant.WriteString(chunk.Delta)
		}
		return chunk, nil

	case errors.Is(err, conn.ErrStreamClosed):
		s.finish(context.WithoutCancel(ctx))
		return conn.Chunk{}, ErrTurnComplete

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.Cancel(context.WithoutCancel(ctx))
		s.finish(context.WithoutCancel(ctx))
		return conn.Chunk{}, err

	default:
		// Turn failed mid-stream; abort the remote side and surface the
		// original error.
		s.Cancel(context.WithoutCancel(ctx))
		s.finish(context.WithoutCancel(ctx))
		return conn.Chunk{}, fmt.Errorf("session.PromptStream.Next: %w", err)
	}
}

// Cancel aborts the in-flight turn. Best-effort: a delivery failure is
// logged, never surfaced, and at most one cancel notification is sent.
func (s *PromptStream) Cancel(ctx context.Context) {
	s.cancelOnce.Do(func() {
		if err := s.connection.Cancel(ctx, s.sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", s.sessionID).Msg("session: cancel notification failed")
		}
	})
}

// finish persists whatever assistant output accumulated. Idempotent.
func (s *PromptStream) finish(ctx context.Context) {
	if s.finished {
		return
	}
	s.finished = true

	text := s.assistant.String()
	if text == "" {
		return
	}
	if _, err := s.manager.AppendMessage(ctx, s.sessionID, RoleAssistant, text); err != nil {
		log.Error().Err(err).Str("session_id", s.sessionID).Msg("session: persisting assistant message failed")
	}
}
