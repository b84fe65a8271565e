package models

import "time"

// Message is an immutable chat message, append-only per conversation.
type Message struct {
	ID             int       `db:"id" json:"id"`
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	SenderID       int       `db:"sender_id" json:"sender_id"`
	SenderUsername string    `db:"sender_username" json:"sender_username,omitempty"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Websocket event names.
const (
	EventSendMessage = "send_message"
	EventNewMessage  = "new_message"
	EventUserStatus  = "user_status"
	EventError       = "error"
)

// WSEvent is the envelope for every websocket frame, both directions.
type WSEvent struct {
	Type    string       `json:"type"`
	Message *Message     `json:"message,omitempty"`
	Send    *SendMessage `json:"data,omitempty"`
	Status  *UserStatus  `json:"status,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// SendMessage is the client payload for a send_message event.
type SendMessage struct {
	ConversationID int    `json:"conversation_id"`
	Content        string `json:"content"`
}

// UserStatus announces presence changes to all connected clients.
type UserStatus struct {
	UserID   int  `json:"user_id"`
	IsOnline bool `json:"is_online"`
}
