package chat

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Hub is the broadcast router. It maps events to three logical channels:
// a private channel scoped to one visitor, the shared channel joined by
// every connected admin, and a per-conversation channel joined by admins
// currently viewing that conversation. Delivery is at-least-once and
// fire-and-forget: a disconnected or slow admin misses events and
// re-fetches state on reconnect.
type Hub struct {
	presence *Presence
	log      zerolog.Logger

	mu      sync.RWMutex
	viewers map[uuid.UUID]map[string]*Client // conversation ID -> client ID -> client
}

// NewHub creates a hub routing through the given presence registry.
func NewHub(presence *Presence, log zerolog.Logger) *Hub {
	return &Hub{
		presence: presence,
		log:      log,
		viewers:  make(map[uuid.UUID]map[string]*Client),
	}
}

// ToVisitor delivers an event to one visitor's private channel. Delivery
// to a visitor with no live connection is a no-op, not an error.
func (h *Hub) ToVisitor(visitorID string, ev Event) {
	c := h.presence.Visitor(visitorID)
	if c == nil {
		return
	}
	if !c.push(ev) {
		h.log.Warn().Str("visitor_id", visitorID).Str("event", ev.Type).Msg("visitor send queue full, event dropped")
	}
}

// ToAdmins delivers an event to the shared admin channel.
func (h *Hub) ToAdmins(ev Event) {
	for _, c := range h.presence.Admins() {
		if !c.push(ev) {
			h.log.Warn().Str("admin_id", c.AdminID).Str("event", ev.Type).Msg("admin send queue full, event dropped")
		}
	}
}

// ToViewers delivers an event to admins currently viewing a conversation.
func (h *Hub) ToViewers(conversationID uuid.UUID, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.viewers[conversationID] {
		c.push(ev)
	}
}

// JoinConversation adds an admin client to a conversation's viewer set.
func (h *Hub) JoinConversation(conversationID uuid.UUID, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.viewers[conversationID] == nil {
		h.viewers[conversationID] = make(map[string]*Client)
	}
	h.viewers[conversationID][c.ID] = c
}

// LeaveConversation removes an admin client from a viewer set.
func (h *Hub) LeaveConversation(conversationID uuid.UUID, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.viewers[conversationID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(h.viewers, conversationID)
		}
	}
}

// DropClient removes a client from every viewer set. Called on admin
// disconnect.
func (h *Hub) DropClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for convID, set := range h.viewers {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(h.viewers, convID)
		}
	}
}
