package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"realtime-chat/internal/cache"
	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/repositories"
)

// ChatHandler manages the conversation and user endpoints. List and
// history reads go through the chat cache; conversation creation is the
// only HTTP writer that invalidates.
type ChatHandler struct {
	users         repositories.UserRepository
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	chatCache     *cache.ChatCache
	presence      presence.Registry
}

// NewChatHandler builds a ChatHandler. chatCache may be nil.
func NewChatHandler(users repositories.UserRepository, conversations repositories.ConversationRepository, messages repositories.MessageRepository, chatCache *cache.ChatCache, registry presence.Registry) *ChatHandler {
	return &ChatHandler{
		users:         users,
		conversations: conversations,
		messages:      messages,
		chatCache:     chatCache,
		presence:      registry,
	}
}

// ListConversations returns the caller's conversations, cached for 300s.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	if list, ok := h.chatCache.GetConversations(ctx, userID); ok {
		c.JSON(http.StatusOK, gin.H{"conversations": list})
		return
	}

	list, err := h.conversations.ListForUser(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	h.chatCache.SetConversations(ctx, userID, list)

	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// GetMessages returns the ordered message history of a conversation.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	member, err := h.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	if msgs, ok := h.chatCache.GetMessages(ctx, conversationID); ok {
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
		return
	}

	msgs, err := h.messages.ListForConversation(ctx, conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	h.chatCache.SetMessages(ctx, conversationID, msgs)

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// CreateConversation creates (or, for a pair, finds) a conversation
// between the caller and the given participants.
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req struct {
		ParticipantIDs []int `json:"participant_ids" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	ctx := c.Request.Context()

	conv, err := h.conversations.Create(ctx, append(req.ParticipantIDs, userID))
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidParticipants) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	participantIDs := make([]int, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		participantIDs = append(participantIDs, p.ID)
	}
	h.chatCache.SetConversation(ctx, conv)
	h.chatCache.InvalidateConversations(ctx, participantIDs...)

	_ = observability.PublishEvent(ctx, "chat_events.conversation_created", observability.EventEnvelope{
		EventType: "chat_events",
		EventName: "conversation_created",
		Payload: map[string]interface{}{
			"conversation_id": conv.ID,
			"participants":    participantIDs,
		},
	}, nil)

	c.JSON(http.StatusOK, conv)
}

// SearchUsers finds users by username/email substring, excluding the caller.
func (h *ChatHandler) SearchUsers(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}

	users, err := h.users.Search(c.Request.Context(), query, c.GetInt("userID"), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

// OnlineUsers returns the currently online users, excluding the caller.
func (h *ChatHandler) OnlineUsers(c *gin.Context) {
	userID := c.GetInt("userID")

	online := h.presence.ListOnline()
	ids := make([]int, 0, len(online))
	for _, id := range online {
		if id != userID {
			ids = append(ids, id)
		}
	}

	users, err := h.users.FindByIDs(c.Request.Context(), ids)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}
	if users == nil {
		users = []models.PublicUser{}
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}
