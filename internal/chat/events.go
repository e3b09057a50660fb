package chat

import (
	"encoding/json"

	"github.com/storefront-labs/livechat/internal/models"
)

// Inbound event types.
const (
	EvConnect     = "connect"
	EvSendMessage = "send_message"
	EvTyping      = "typing"
	EvStopTyping  = "stop_typing"
	EvJoin        = "join"
	EvOpenChat    = "open_chat"
	EvSendReply   = "send_reply"
	EvMarkRead    = "mark_read"
	EvCloseChat   = "close_chat"
)

// Outbound event types.
const (
	EvHistory             = "history"
	EvNewMessage          = "new_message"
	EvClosed              = "closed"
	EvDeleted             = "deleted"
	EvVisitorConnected    = "visitor_connected"
	EvVisitorDisconnected = "visitor_disconnected"
	EvUpdated             = "updated"
	EvReadUpdate          = "read_update"
	EvStats               = "stats"
	EvError               = "error"
)

// Event is the wire envelope for both directions. Inbound payloads are
// decoded lazily by type; outbound payloads are marshaled as-is.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an outbound event, marshaling the payload. A payload
// that fails to marshal yields an event with an empty payload; callers
// only pass JSON-safe structs.
func NewEvent(typ string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{Type: typ}
	}
	return Event{Type: typ, Payload: data}
}

// Inbound payloads.

type ConnectPayload struct {
	VisitorID string `json:"visitor_id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
}

type SendMessagePayload struct {
	VisitorID string `json:"visitor_id"`
	Text      string `json:"text"`
}

type TypingPayload struct {
	VisitorID      string `json:"visitor_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type JoinPayload struct {
	AdminID   string `json:"admin_id,omitempty"`
	AdminName string `json:"admin_name"`
}

type OpenChatPayload struct {
	ConversationID string `json:"conversation_id"`
}

type SendReplyPayload struct {
	ConversationID string `json:"conversation_id"`
	VisitorID      string `json:"visitor_id,omitempty"`
	Text           string `json:"text"`
	AgentName      string `json:"agent_name"`
}

// Outbound payloads.

type HistoryPayload struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	Phase          models.Phase     `json:"phase"`
	AgentName      string           `json:"agent_name,omitempty"`
	AgentAvatar    string           `json:"agent_avatar,omitempty"`
}

type NewMessagePayload struct {
	ConversationID string         `json:"conversation_id"`
	Message        models.Message `json:"message"`
}

// MessageNoticePayload is the compact shared-admin-channel notification:
// exactly one per human-authored message, carrying the updated unread
// count.
type MessageNoticePayload struct {
	ConversationID string         `json:"conversation_id"`
	VisitorID      string         `json:"visitor_id"`
	Message        models.Message `json:"message"`
	UnreadCount    int            `json:"unread_count"`
}

type ClosedPayload struct {
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message,omitempty"`
}

type DeletedPayload struct {
	ConversationID string `json:"conversation_id"`
}

type VisitorPresencePayload struct {
	VisitorID string `json:"visitor_id"`
}

type ReadUpdatePayload struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int    `json:"unread_count"`
}

type StatsPayload struct {
	Visitors int `json:"visitors"`
	Admins   int `json:"admins"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
