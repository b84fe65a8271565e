package models

import "time"

// Conversation groups two or more participants. For exactly two
// participants at most one conversation exists between the pair.
type Conversation struct {
	ID           int          `db:"id" json:"id"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
	Participants []PublicUser `json:"participants"`
}

// ConversationSummary is the list view for a user: the conversation plus
// its most recent message, ordered by UpdatedAt.
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"last_message,omitempty"`
}
