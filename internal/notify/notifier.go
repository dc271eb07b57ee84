// Package notify pushes pending permission requests to humans so a
// decision can be made out-of-band while the agent's turn stays
// suspended.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/acplink/internal/conn"
)

// Notifier announces a pending permission request.
type Notifier interface {
	NotifyPermission(ctx context.Context, pending conn.PendingPermission) error
}

// LogNotifier is the fallback when no messenger is configured: the
// request is logged and decided through the HTTP API alone.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyPermission(_ context.Context, pending conn.PendingPermission) error {
	log.Info().
		Str("permission_id", pending.PermissionID).
		Str("session_id", pending.Request.SessionID).
		Str("tool_call_id", pending.Request.ToolCall.ToolCallID).
		Str("title", pending.Request.ToolCall.Title).
		Msg("notify: permission decision required")
	return nil
}
