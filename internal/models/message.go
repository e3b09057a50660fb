package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
	RoleBot     Role = "bot"
)

// Message is one entry in a conversation's log. Immutable once appended
// except for the read flag, which is meaningful only for visitor messages.
type Message struct {
	ID             string    `json:"id"` // ULID
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	SenderName     string    `json:"sender_name,omitempty"`
	Body           string    `json:"body"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
