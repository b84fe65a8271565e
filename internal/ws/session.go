package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/pipeline"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/repositories"
)

// SessionHandler drives the per-connection lifecycle: authenticate, join
// rooms, handle events, teardown. One socket per user; a newer connection
// supersedes the presence entry of an older one.
type SessionHandler struct {
	hub           *Hub
	tokens        *auth.TokenService
	users         repositories.UserRepository
	conversations repositories.ConversationRepository
	pipeline      *pipeline.Pipeline
	presence      presence.Registry
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(hub *Hub, tokens *auth.TokenService, users repositories.UserRepository, conversations repositories.ConversationRepository, pipe *pipeline.Pipeline, registry presence.Registry) *SessionHandler {
	return &SessionHandler{
		hub:           hub,
		tokens:        tokens,
		users:         users,
		conversations: conversations,
		pipeline:      pipe,
		presence:      registry,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and runs the session.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("realtime-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	// Authentication happens over the upgraded socket so a rejection can
	// surface an error event before close. No state is touched on failure.
	claims, err := h.tokens.Verify(handshakeToken(c))
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, auth.ErrMissingToken) {
			reason = "missing token"
		}
		payload, _ := json.Marshal(models.WSEvent{Type: models.EventError, Error: reason})
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		conn.Close()
		return
	}

	client := NewClient(conn, newConnID(), claims.UserID, claims.Username)
	client.IP = observability.IPFromRequest(c.Request)
	client.RequestID = observability.RequestIDFromRequest(c.Request)
	client.TraceID = span.SpanContext().TraceID().String()

	h.hub.Register(client)
	h.presence.MarkOnline(ctx, client.UserID, client.ConnID)
	if err := h.users.SetOnline(ctx, client.UserID, true); err != nil {
		log.Printf("set online flag failed user=%d: %v", client.UserID, err)
	}
	h.hub.BroadcastAll(models.WSEvent{
		Type:   models.EventUserStatus,
		Status: &models.UserStatus{UserID: client.UserID, IsOnline: true},
	})

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishSessionEvent(ctx, client, "ws_connect", "")

	conversationIDs, err := h.conversations.ListIDsForUser(ctx, client.UserID)
	if err != nil {
		log.Printf("load conversations failed user=%d: %v", client.UserID, err)
		_ = client.Send(models.WSEvent{Type: models.EventError, Error: "failed to load conversations"})
		client.Close()
		h.teardown(client, "load conversations failed")
		return
	}
	for _, id := range conversationIDs {
		h.hub.Join(id, client)
	}

	go h.readLoop(client)
}

func (h *SessionHandler) readLoop(client *Client) {
	var closeReason string
	defer func() {
		client.Close()
		h.teardown(client, closeReason)
	}()

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}

		var event models.WSEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			_ = client.Send(models.WSEvent{Type: models.EventError, Error: "malformed request"})
			continue
		}
		if event.Type != models.EventSendMessage || event.Send == nil {
			_ = client.Send(models.WSEvent{Type: models.EventError, Error: "unsupported event"})
			continue
		}

		// A detached context: a disconnect mid-submit must not cancel an
		// in-flight persistence write.
		if _, err := h.pipeline.Submit(context.Background(), event.Send.ConversationID, client.UserID, event.Send.Content); err != nil {
			_ = client.Send(models.WSEvent{Type: models.EventError, Error: submitErrorMessage(err)})
		}
	}
}

// teardown runs once per connection: rooms are released, then presence.
// The durable flag and the offline broadcast are skipped when a newer
// connection already took over the presence entry.
func (h *SessionHandler) teardown(client *Client, reason string) {
	ctx := context.Background()

	h.hub.LeaveAll(client)
	h.presence.MarkOffline(ctx, client.UserID, client.ConnID)

	if !h.presence.IsOnline(client.UserID) {
		if err := h.users.SetOnline(ctx, client.UserID, false); err != nil {
			log.Printf("set offline flag failed user=%d: %v", client.UserID, err)
		}
		h.hub.BroadcastAll(models.WSEvent{
			Type:   models.EventUserStatus,
			Status: &models.UserStatus{UserID: client.UserID, IsOnline: false},
		})
	}

	observability.DecWSActive()
	observability.IncWSEvent("ws_disconnect")
	h.publishSessionEvent(ctx, client, "ws_disconnect", reason)
}

func (h *SessionHandler) publishSessionEvent(ctx context.Context, client *Client, event, reason string) {
	_ = observability.PublishEvent(ctx, "ws_events.chat", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     client.ConnID,
				"duration_ms": time.Since(client.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id": client.UserID,
				"ip":      client.IP,
			},
		},
	}, observability.BuildHeaders(client.RequestID, client.TraceID))
}

func handshakeToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	return ""
}

func submitErrorMessage(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrEmptyMessage):
		return "empty message"
	case errors.Is(err, pipeline.ErrNotParticipant):
		return "not a participant"
	case errors.Is(err, repositories.ErrConversationNotFound):
		return "conversation not found"
	default:
		return "failed to send message"
	}
}
