package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusClosed  Status = "closed"
)

// IsOpen reports whether a conversation in this status can still accept
// messages.
func (s Status) IsOpen() bool {
	return s == StatusActive || s == StatusPending
}

// ClientMeta holds network/client facts captured at first connection.
// Never overwritten afterwards.
type ClientMeta struct {
	IP      string `json:"ip,omitempty"`
	Browser string `json:"browser,omitempty"`
	Device  string `json:"device,omitempty"`
}

// Conversation is the durable record of one visitor's support interaction.
// At most one conversation per visitor ID may be open (active or pending)
// at a time.
type Conversation struct {
	ID            uuid.UUID  `json:"id"`
	VisitorID     string     `json:"visitor_id"`
	VisitorName   string     `json:"visitor_name,omitempty"`
	VisitorEmail  string     `json:"visitor_email,omitempty"`
	Meta          ClientMeta `json:"meta"`
	Status        Status     `json:"status"`
	Messages      []Message  `json:"messages,omitempty"`
	LastMessageAt time.Time  `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	ClosedBy      string     `json:"closed_by,omitempty"`
}

// Phase returns the conversation's derived onboarding phase.
func (c *Conversation) Phase() Phase {
	return PhaseOf(c.VisitorName, c.VisitorEmail)
}

// ConversationSummary is a list-view row: no message log, just the most
// recent message and the derived unread count.
type ConversationSummary struct {
	ID            uuid.UUID  `json:"id"`
	VisitorID     string     `json:"visitor_id"`
	VisitorName   string     `json:"visitor_name,omitempty"`
	VisitorEmail  string     `json:"visitor_email,omitempty"`
	Meta          ClientMeta `json:"meta"`
	Status        Status     `json:"status"`
	LastMessage   *Message   `json:"last_message,omitempty"`
	UnreadCount   int        `json:"unread_count"`
	LastMessageAt time.Time  `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
}
