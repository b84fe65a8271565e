package pipeline

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"realtime-chat/internal/cache"
	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/repositories"
)

var (
	ErrEmptyMessage   = errors.New("empty message")
	ErrNotParticipant = errors.New("sender is not a participant")
)

// Broadcaster fans a persisted message out to a conversation room.
type Broadcaster interface {
	BroadcastToRoom(conversationID int, event models.WSEvent)
}

// Pipeline validates, persists, and fans out new messages. Order of
// commit points: persist, touch conversation, broadcast, invalidate.
// Nothing is broadcast or invalidated for a message that failed to
// persist; a delivery failure to one subscriber never rolls persistence
// back.
type Pipeline struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	chatCache     *cache.ChatCache
	broadcaster   Broadcaster

	// Striped per-conversation locks spanning persist and broadcast, so
	// room members see messages in the order persistence completed. The
	// fixed stripe count bounds memory; two conversations sharing a
	// stripe serialize against each other, which is harmless.
	locks [64]sync.Mutex
}

// New constructs a Pipeline. chatCache may be nil.
func New(conversations repositories.ConversationRepository, messages repositories.MessageRepository, chatCache *cache.ChatCache, broadcaster Broadcaster) *Pipeline {
	return &Pipeline{
		conversations: conversations,
		messages:      messages,
		chatCache:     chatCache,
		broadcaster:   broadcaster,
	}
}

// Submit runs one message through the pipeline and returns the persisted
// message.
func (p *Pipeline) Submit(ctx context.Context, conversationID, senderID int, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyMessage
	}

	participants, err := p.conversations.ParticipantIDs(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if len(participants) == 0 {
		return models.Message{}, repositories.ErrConversationNotFound
	}
	if !contains(participants, senderID) {
		return models.Message{}, ErrNotParticipant
	}

	lock := p.conversationLock(conversationID)
	lock.Lock()
	msg, err := p.messages.Create(ctx, conversationID, senderID, content)
	if err != nil {
		lock.Unlock()
		return models.Message{}, err
	}
	if err := p.conversations.TouchUpdatedAt(ctx, conversationID); err != nil {
		// The message is durable; a failed bump only skews list ordering.
		log.Printf("touch conversation %d failed: %v", conversationID, err)
	}
	p.broadcaster.BroadcastToRoom(conversationID, models.WSEvent{
		Type:    models.EventNewMessage,
		Message: &msg,
	})
	lock.Unlock()

	p.chatCache.InvalidateMessages(ctx, conversationID)
	p.chatCache.InvalidateConversations(ctx, participants...)

	_ = observability.PublishEvent(ctx, "chat_events.message_created", observability.EventEnvelope{
		EventType: "chat_events",
		EventName: "message_created",
		Payload: map[string]interface{}{
			"message_id":      msg.ID,
			"conversation_id": msg.ConversationID,
			"sender_id":       msg.SenderID,
		},
	}, nil)

	return msg, nil
}

func (p *Pipeline) conversationLock(conversationID int) *sync.Mutex {
	return &p.locks[uint(conversationID)%uint(len(p.locks))]
}

func contains(ids []int, id int) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
