package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/acplink/internal/api/v1"
	"github.com/gosuda/acplink/internal/conn"
	"github.com/gosuda/acplink/internal/notify"
	"github.com/gosuda/acplink/internal/session"
	redisstore "github.com/gosuda/acplink/internal/store/redis"
)

// EventPublisher fans session events out to subscribers. *redis.PubSub
// satisfies this interface.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event redisstore.Event) error
}

// Gateway bridges the session orchestrator to the outside world: prompt
// turns run asynchronously with their chunks fanned out over pub/sub,
// lifecycle callbacks become events on the wire, and pending permission
// requests are tracked for the HTTP API and pushed to the notifier.
type Gateway struct {
	manager   *session.Manager
	publisher EventPublisher
	registry  *v1.PermissionRegistry
	notifier  notify.Notifier
}

// NewGateway creates a Gateway. The session manager is bound afterwards
// via Bind because the manager itself is constructed with the gateway's
// Lifecycle callbacks.
func NewGateway(publisher EventPublisher, registry *v1.PermissionRegistry, notifier notify.Notifier) *Gateway {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &Gateway{publisher: publisher, registry: registry, notifier: notifier}
}

// Bind attaches the session manager. Must be called before RunPrompt.
func (g *Gateway) Bind(manager *session.Manager) {
	g.manager = manager
}

// Lifecycle returns the orchestrator callbacks that turn lifecycle
// changes into published events.
func (g *Gateway) Lifecycle() session.Lifecycle {
	return session.Lifecycle{
		OnStatusChange:      g.handleStatusChange,
		OnSessionCreated:    g.handleSessionCreated,
		OnSessionDeleted:    g.handleSessionDeleted,
		OnPermissionRequest: g.handlePermissionRequest,
		OnError:             g.handleError,
	}
}

// RunPrompt starts a prompt turn and returns immediately with the
// session id. Chunks stream to the session's pub/sub channel until a
// final status event marks the turn complete or failed.
func (g *Gateway) RunPrompt(ctx context.Context, sessionID, cwd, content string) (string, error) {
	stream, err := g.manager.StartPrompt(ctx, sessionID, cwd, content)
	if err != nil {
		return "", fmt.Errorf("server.Gateway.RunPrompt: %w", err)
	}

	go g.pumpTurn(stream)

	return stream.SessionID(), nil
}

// pumpTurn drains one turn's chunk stream into pub/sub. Runs until the
// turn completes, fails, or is cancelled.
func (g *Gateway) pumpTurn(stream *session.PromptStream) {
	ctx := context.Background()

	for {
		chunk, err := stream.Next(ctx)
		if err == nil {
			g.publishJSON(ctx, redisstore.EventChunk, stream.SessionID(), chunk)
			continue
		}

		if errors.Is(err, session.ErrTurnComplete) {
			g.publishJSON(ctx, redisstore.EventStatus, stream.SessionID(), map[string]string{
				"turn":        "complete",
				"stop_reason": stream.StopReason(),
			})
			return
		}

		log.Warn().Err(err).Str("session_id", stream.SessionID()).Msg("server: prompt turn failed")
		g.publishJSON(ctx, redisstore.EventStatus, stream.SessionID(), map[string]string{
			"turn":  "failed",
			"error": err.Error(),
		})
		return
	}
}

func (g *Gateway) handleStatusChange(status session.Status) {
	if status == session.StatusDisconnected || status == session.StatusError {
		// The connection rejects its pending permission waiters on
		// teardown; the registry mirrors that.
		g.registry.Clear()
	}
	g.publishJSON(context.Background(), redisstore.EventStatus, "", map[string]string{
		"status": string(status),
	})
}

func (g *Gateway) handleSessionCreated(meta session.Metadata) {
	g.publishJSON(context.Background(), redisstore.EventSession, "", map[string]any{
		"action":  "created",
		"session": meta,
	})
}

func (g *Gateway) handleSessionDeleted(id string) {
	g.publishJSON(context.Background(), redisstore.EventSession, "", map[string]any{
		"action":     "deleted",
		"session_id": id,
	})
}

func (g *Gateway) handlePermissionRequest(pending conn.PendingPermission) {
	g.registry.Add(pending)

	ctx := context.Background()
	g.publishJSON(ctx, redisstore.EventPermission, pending.Request.SessionID, pending)

	if err := g.notifier.NotifyPermission(ctx, pending); err != nil {
		log.Error().Err(err).Str("permission_id", pending.PermissionID).Msg("server: permission notification failed")
	}
}

func (g *Gateway) handleError(err error) {
	log.Error().Err(err).Msg("server: connection error")
}

func (g *Gateway) publishJSON(ctx context.Context, eventType, sessionID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("server: event marshal failed")
		return
	}
	event := redisstore.Event{Type: eventType, SessionID: sessionID, Payload: data}
	if err := g.publisher.PublishEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("server: event publish failed")
	}
}
