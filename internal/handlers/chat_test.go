package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-chat/internal/cache"
	"realtime-chat/internal/mocks"
	"realtime-chat/internal/models"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/repositories"
)

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/conversations", handler.ListConversations)
	r.POST("/conversations", handler.CreateConversation)
	r.GET("/conversations/:id/messages", handler.GetMessages)
	r.GET("/users/search", handler.SearchUsers)
	r.GET("/users/online", handler.OnlineUsers)
	return r
}

func TestListConversationsCacheMiss(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	store := new(mocks.StoreMock)
	handler := NewChatHandler(nil, convs, nil, cache.NewChatCache(store), nil)
	router := setupChatRouter(handler)

	store.On("Get", mock.Anything, "user:1:conversations").Return("", cache.ErrMiss).Once()
	convs.On("ListForUser", mock.Anything, 1).
		Return([]models.ConversationSummary{{Conversation: models.Conversation{ID: 3}}}, nil).Once()
	store.On("Set", mock.Anything, "user:1:conversations", mock.Anything, 300*time.Second).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	convs.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestListConversationsCacheHit(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	store := new(mocks.StoreMock)
	handler := NewChatHandler(nil, convs, nil, cache.NewChatCache(store), nil)
	router := setupChatRouter(handler)

	cached, err := json.Marshal([]models.ConversationSummary{{Conversation: models.Conversation{ID: 3}}})
	require.NoError(t, err)
	store.On("Get", mock.Anything, "user:1:conversations").Return(string(cached), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	convs.AssertNotCalled(t, "ListForUser", mock.Anything, mock.Anything)
}

func TestListConversationsRepoError(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	handler := NewChatHandler(nil, convs, nil, nil, nil)
	router := setupChatRouter(handler)

	convs.On("ListForUser", mock.Anything, 1).Return(([]models.ConversationSummary)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetMessagesNotParticipant(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	msgs := new(mocks.MessageRepositoryMock)
	handler := NewChatHandler(nil, convs, msgs, nil, nil)
	router := setupChatRouter(handler)

	convs.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	msgs.AssertNotCalled(t, "ListForConversation", mock.Anything, mock.Anything)
}

func TestGetMessagesInvalidID(t *testing.T) {
	handler := NewChatHandler(nil, new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), nil, nil)
	router := setupChatRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/conversations/abc/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessagesCacheMissPopulates(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	msgs := new(mocks.MessageRepositoryMock)
	store := new(mocks.StoreMock)
	handler := NewChatHandler(nil, convs, msgs, cache.NewChatCache(store), nil)
	router := setupChatRouter(handler)

	convs.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	store.On("GetList", mock.Anything, "messages:5").Return(([]string)(nil), cache.ErrMiss).Once()
	msgs.On("ListForConversation", mock.Anything, 5).
		Return([]models.Message{{ID: 1, ConversationID: 5, SenderID: 1, Content: "hi"}}, nil).Once()
	store.On("Del", mock.Anything, "messages:5").Return(int64(0), nil).Once()
	store.On("Append", mock.Anything, "messages:5", mock.Anything).Return(nil).Once()
	store.On("Expire", mock.Anything, "messages:5", 3600*time.Second).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"content":"hi"`)
	store.AssertExpectations(t)
}

func TestCreateConversationInvalidatesListCaches(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	store := new(mocks.StoreMock)
	handler := NewChatHandler(nil, convs, nil, cache.NewChatCache(store), nil)
	router := setupChatRouter(handler)

	conv := models.Conversation{
		ID:           7,
		Participants: []models.PublicUser{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}},
	}
	convs.On("Create", mock.Anything, []int{2, 1}).Return(conv, nil).Once()
	store.On("Set", mock.Anything, "conversation:7", mock.Anything, 3600*time.Second).Return(nil).Once()
	store.On("Del", mock.Anything, "user:1:conversations", "user:2:conversations").Return(int64(2), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"participant_ids":[2]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	convs.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestCreateConversationTwiceReturnsSameConversation(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	handler := NewChatHandler(nil, convs, nil, nil, nil)
	router := setupChatRouter(handler)

	conv := models.Conversation{
		ID:           7,
		Participants: []models.PublicUser{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}},
	}
	convs.On("Create", mock.Anything, []int{2, 1}).Return(conv, nil).Twice()

	ids := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"participant_ids":[2]}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.Conversation
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		ids = append(ids, got.ID)
	}

	require.Equal(t, ids[0], ids[1])
	convs.AssertExpectations(t)
}

func TestCreateConversationWithSelfOnly(t *testing.T) {
	convs := new(mocks.ConversationRepositoryMock)
	handler := NewChatHandler(nil, convs, nil, nil, nil)
	router := setupChatRouter(handler)

	convs.On("Create", mock.Anything, []int{1, 1}).
		Return(models.Conversation{}, repositories.ErrInvalidParticipants).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"participant_ids":[1]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateConversationMissingBody(t *testing.T) {
	handler := NewChatHandler(nil, new(mocks.ConversationRepositoryMock), nil, nil, nil)
	router := setupChatRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchUsersMissingQuery(t *testing.T) {
	handler := NewChatHandler(new(mocks.UserRepositoryMock), nil, nil, nil, nil)
	router := setupChatRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/users/search", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchUsersSuccess(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(users, nil, nil, nil, nil)
	router := setupChatRouter(handler)

	users.On("Search", mock.Anything, "bob", 1, 20).
		Return([]models.PublicUser{{ID: 2, Username: "bob"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/users/search?q=bob", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"username":"bob"`)
	users.AssertExpectations(t)
}

func TestOnlineUsersExcludesCaller(t *testing.T) {
	users := new(mocks.UserRepositoryMock)
	registry := presence.NewMemoryRegistry(nil)
	handler := NewChatHandler(users, nil, nil, nil, registry)
	router := setupChatRouter(handler)

	registry.MarkOnline(context.Background(), 1, "conn-a")
	registry.MarkOnline(context.Background(), 2, "conn-b")

	users.On("FindByIDs", mock.Anything, []int{2}).
		Return([]models.PublicUser{{ID: 2, Username: "bob", IsOnline: true}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/users/online", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	users.AssertExpectations(t)
}
