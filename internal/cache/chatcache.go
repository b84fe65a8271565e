package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"realtime-chat/internal/models"
	"realtime-chat/internal/observability"
)

const (
	conversationListTTL = 300 * time.Second
	messageHistoryTTL   = 3600 * time.Second
	conversationTTL     = 3600 * time.Second
)

// ChatCache is the read-through / invalidate-on-write layer over the raw
// store. It is never the system of record: every value it holds is a copy
// of a prior database read, and store errors degrade to misses so the
// caller falls through to the database. A nil ChatCache is a valid no-op.
type ChatCache struct {
	store Store
}

// NewChatCache wraps a Store.
func NewChatCache(store Store) *ChatCache {
	return &ChatCache{store: store}
}

func conversationListKey(userID int) string { return fmt.Sprintf("user:%d:conversations", userID) }
func messagesKey(conversationID int) string { return fmt.Sprintf("messages:%d", conversationID) }
func conversationKey(conversationID int) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// GetConversations returns the cached conversation list for a user.
func (c *ChatCache) GetConversations(ctx context.Context, userID int) ([]models.ConversationSummary, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	raw, err := c.store.Get(ctx, conversationListKey(userID))
	if err != nil {
		c.miss("conversations", err)
		return nil, false
	}
	var list []models.ConversationSummary
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		c.miss("conversations", err)
		return nil, false
	}
	observability.IncCacheHit("conversations")
	return list, true
}

// SetConversations caches a user's conversation list.
func (c *ChatCache) SetConversations(ctx context.Context, userID int, list []models.ConversationSummary) {
	if c == nil || c.store == nil {
		return
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, conversationListKey(userID), string(raw), conversationListTTL); err != nil {
		log.Printf("cache set conversations failed: %v", err)
	}
}

// InvalidateConversations drops the conversation-list entries for users.
func (c *ChatCache) InvalidateConversations(ctx context.Context, userIDs ...int) {
	if c == nil || c.store == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, conversationListKey(id))
	}
	if _, err := c.store.Del(ctx, keys...); err != nil {
		log.Printf("cache invalidate conversations failed: %v", err)
	}
}

// GetMessages returns the cached message history for a conversation.
func (c *ChatCache) GetMessages(ctx context.Context, conversationID int) ([]models.Message, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	raw, err := c.store.GetList(ctx, messagesKey(conversationID))
	if err != nil {
		c.miss("messages", err)
		return nil, false
	}
	msgs := make([]models.Message, 0, len(raw))
	for _, item := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			c.miss("messages", err)
			return nil, false
		}
		msgs = append(msgs, msg)
	}
	observability.IncCacheHit("messages")
	return msgs, true
}

// SetMessages caches a conversation's ordered message history.
func (c *ChatCache) SetMessages(ctx context.Context, conversationID int, msgs []models.Message) {
	if c == nil || c.store == nil || len(msgs) == 0 {
		return
	}
	key := messagesKey(conversationID)
	items := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return
		}
		items = append(items, string(raw))
	}
	// Rewrite the whole list so a partial entry never survives.
	if _, err := c.store.Del(ctx, key); err != nil {
		log.Printf("cache set messages failed: %v", err)
		return
	}
	if err := c.store.Append(ctx, key, items...); err != nil {
		log.Printf("cache set messages failed: %v", err)
		return
	}
	if err := c.store.Expire(ctx, key, messageHistoryTTL); err != nil {
		log.Printf("cache set messages failed: %v", err)
	}
}

// InvalidateMessages drops a conversation's message history entry.
func (c *ChatCache) InvalidateMessages(ctx context.Context, conversationID int) {
	if c == nil || c.store == nil {
		return
	}
	if _, err := c.store.Del(ctx, messagesKey(conversationID)); err != nil {
		log.Printf("cache invalidate messages failed: %v", err)
	}
}

// SetConversation caches a single conversation snapshot.
func (c *ChatCache) SetConversation(ctx context.Context, conv models.Conversation) {
	if c == nil || c.store == nil {
		return
	}
	raw, err := json.Marshal(conv)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, conversationKey(conv.ID), string(raw), conversationTTL); err != nil {
		log.Printf("cache set conversation failed: %v", err)
	}
}

func (c *ChatCache) miss(kind string, err error) {
	observability.IncCacheMiss(kind)
	if err != ErrMiss {
		log.Printf("cache %s read degraded to store: %v", kind, err)
	}
}
