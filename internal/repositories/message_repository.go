package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"realtime-chat/internal/models"
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Create(ctx context.Context, conversationID, senderID int, content string) (models.Message, error)
	ListForConversation(ctx context.Context, conversationID int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create appends a message to a conversation.
func (r *MessageRepo) Create(ctx context.Context, conversationID, senderID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (conversation_id, sender_id, content) VALUES ($1, $2, $3)
        RETURNING id, conversation_id, sender_id, content, created_at,
        (SELECT username FROM users WHERE id=$2) AS sender_username`, conversationID, senderID, content).
		StructScan(&msg)
	return msg, err
}

// ListForConversation returns messages ordered by creation time.
func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT m.id, m.conversation_id, m.sender_id, u.username AS sender_username, m.content, m.created_at
        FROM messages m JOIN users u ON u.id = m.sender_id
        WHERE m.conversation_id=$1 ORDER BY m.created_at ASC, m.id ASC`, conversationID)
	return msgs, err
}
