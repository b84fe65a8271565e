package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-chat/internal/auth"
	"realtime-chat/internal/mocks"
	"realtime-chat/internal/models"
	"realtime-chat/internal/pipeline"
	"realtime-chat/internal/presence"
)

type sessionFixture struct {
	hub      *Hub
	registry *presence.MemoryRegistry
	tokens   *auth.TokenService
	users    *mocks.UserRepositoryMock
	convs    *mocks.ConversationRepositoryMock
	msgs     *mocks.MessageRepositoryMock
	server   *httptest.Server
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &sessionFixture{
		hub:      NewHub(),
		registry: presence.NewMemoryRegistry(nil),
		tokens:   auth.NewTokenService("test-secret", time.Hour),
		users:    new(mocks.UserRepositoryMock),
		convs:    new(mocks.ConversationRepositoryMock),
		msgs:     new(mocks.MessageRepositoryMock),
	}

	pipe := pipeline.New(f.convs, f.msgs, nil, f.hub)
	handler := NewSessionHandler(f.hub, f.tokens, f.users, f.convs, pipe, f.registry)

	router := gin.New()
	router.GET("/ws", handler.Handle)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *sessionFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, eventType string) models.WSEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		var event models.WSEvent
		require.NoError(t, json.Unmarshal(payload, &event))
		if event.Type == eventType {
			return event
		}
	}
}

func TestSessionRejectsBadToken(t *testing.T) {
	f := newSessionFixture(t)

	conn := f.dial(t, "not-a-token")
	event := readEvent(t, conn, models.EventError)
	require.Equal(t, "invalid token", event.Error)

	require.False(t, f.registry.IsOnline(1))
}

func TestSessionRejectsMissingToken(t *testing.T) {
	f := newSessionFixture(t)

	conn := f.dial(t, "")
	event := readEvent(t, conn, models.EventError)
	require.Equal(t, "missing token", event.Error)
}

func TestSessionLifecycleAndMessageFanout(t *testing.T) {
	f := newSessionFixture(t)

	f.users.On("SetOnline", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.convs.On("ListIDsForUser", mock.Anything, 1).Return([]int{5}, nil)
	f.convs.On("ListIDsForUser", mock.Anything, 2).Return([]int{5}, nil)
	f.convs.On("ParticipantIDs", mock.Anything, 5).Return([]int{1, 2}, nil)
	f.convs.On("TouchUpdatedAt", mock.Anything, 5).Return(nil)
	f.msgs.On("Create", mock.Anything, 5, 1, "hi").
		Return(models.Message{ID: 9, ConversationID: 5, SenderID: 1, Content: "hi", CreatedAt: time.Now()}, nil).Once()

	tokenA, err := f.tokens.Issue(1, "alice")
	require.NoError(t, err)
	tokenB, err := f.tokens.Issue(2, "bob")
	require.NoError(t, err)

	connA := f.dial(t, tokenA)
	connB := f.dial(t, tokenB)

	require.Eventually(t, func() bool { return f.hub.RoomSize(5) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.True(t, f.registry.IsOnline(1))
	require.True(t, f.registry.IsOnline(2))

	send := models.WSEvent{
		Type: models.EventSendMessage,
		Send: &models.SendMessage{ConversationID: 5, Content: "hi"},
	}
	require.NoError(t, connA.WriteJSON(send))

	for _, conn := range []*websocket.Conn{connA, connB} {
		event := readEvent(t, conn, models.EventNewMessage)
		require.NotNil(t, event.Message)
		require.Equal(t, "hi", event.Message.Content)
		require.Equal(t, 1, event.Message.SenderID)
		require.False(t, event.Message.CreatedAt.IsZero())
	}

	connA.Close()
	require.Eventually(t, func() bool { return !f.registry.IsOnline(1) }, 2*time.Second, 10*time.Millisecond)

	status := readEvent(t, connB, models.EventUserStatus)
	require.Equal(t, 1, status.Status.UserID)
	require.False(t, status.Status.IsOnline)
}

func TestSessionEmptyMessageRejected(t *testing.T) {
	f := newSessionFixture(t)

	f.users.On("SetOnline", mock.Anything, 1, mock.Anything).Return(nil)
	f.convs.On("ListIDsForUser", mock.Anything, 1).Return([]int{5}, nil)

	token, err := f.tokens.Issue(1, "alice")
	require.NoError(t, err)
	conn := f.dial(t, token)

	require.Eventually(t, func() bool { return f.hub.RoomSize(5) == 1 }, 2*time.Second, 10*time.Millisecond)

	send := models.WSEvent{
		Type: models.EventSendMessage,
		Send: &models.SendMessage{ConversationID: 5, Content: "   "},
	}
	require.NoError(t, conn.WriteJSON(send))

	event := readEvent(t, conn, models.EventError)
	require.Equal(t, "empty message", event.Error)
	f.msgs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSessionMalformedFrame(t *testing.T) {
	f := newSessionFixture(t)

	f.users.On("SetOnline", mock.Anything, 1, mock.Anything).Return(nil)
	f.convs.On("ListIDsForUser", mock.Anything, 1).Return([]int(nil), nil)

	token, err := f.tokens.Issue(1, "alice")
	require.NoError(t, err)
	conn := f.dial(t, token)

	require.Eventually(t, func() bool { return f.registry.IsOnline(1) }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	event := readEvent(t, conn, models.EventError)
	require.Equal(t, "malformed request", event.Error)
}
