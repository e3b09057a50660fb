package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/storefront-labs/livechat/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be less than pongWait
	maxFrame   = 8 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Widget and console are embedded on arbitrary storefront origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SocketHandler exposes the realtime event surface over websockets. Each
// live connection gets an independent read goroutine and write pump;
// neither blocks another connection.
type SocketHandler struct {
	service *Service
	log     zerolog.Logger

	// adminAuth verifies the admin key supplied at join time. nil
	// disables admin auth (development).
	adminAuth func(key string) bool
}

// NewSocketHandler creates the websocket endpoints.
func NewSocketHandler(service *Service, adminAuth func(key string) bool, log zerolog.Logger) *SocketHandler {
	return &SocketHandler{service: service, adminAuth: adminAuth, log: log}
}

// writePump drains a client's send queue onto the wire and keeps the
// connection alive with pings. Exits when the client is closed.
func (h *SocketHandler) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev := <-c.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done():
			return
		}
	}
}

// sendError reports a non-fatal error to the originating connection only.
func sendError(c *Client, code, msg string) {
	c.push(NewEvent(EvError, ErrorPayload{Code: code, Message: msg}))
}

// reportError maps service errors onto the error taxonomy: validation and
// not-found errors go back to the origin; anything else is a persistence
// failure on this operation.
func (h *SocketHandler) reportError(c *Client, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		sendError(c, "validation", strings.TrimPrefix(err.Error(), "validation: "))
	case errors.Is(err, ErrNotFound):
		sendError(c, "not_found", err.Error())
	default:
		h.log.Error().Err(err).Str("client_id", c.ID).Msg("operation failed")
		sendError(c, "internal", "operation failed")
	}
}

// clientMeta derives network/client facts from the connect request. Done
// once at first connection; never overwritten afterwards.
func clientMeta(r *http.Request) models.ClientMeta {
	ua := r.UserAgent()
	browser := "other"
	for _, b := range []string{"Edg", "OPR", "Chrome", "Safari", "Firefox"} {
		if strings.Contains(ua, b) {
			browser = strings.ToLower(b)
			break
		}
	}
	device := "desktop"
	if strings.Contains(ua, "Mobile") || strings.Contains(ua, "Android") {
		device = "mobile"
	}

	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	} else {
		ip = r.RemoteAddr
		if i := strings.LastIndex(ip, ":"); i > 0 {
			ip = ip[:i]
		}
	}

	return models.ClientMeta{IP: ip, Browser: browser, Device: device}
}

// HandleVisitor is the HTTP handler for /ws/visitor. The first event must
// be a connect carrying the visitor's client-generated token.
func (h *SocketHandler) HandleVisitor(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxFrame)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var first Event
	if err := conn.ReadJSON(&first); err != nil || first.Type != EvConnect {
		return
	}
	var connect ConnectPayload
	if err := json.Unmarshal(first.Payload, &connect); err != nil || connect.VisitorID == "" {
		conn.WriteJSON(NewEvent(EvError, ErrorPayload{Code: "validation", Message: "visitor id is required"}))
		return
	}

	c := NewVisitorClient(connect.VisitorID)
	defer c.Close()
	go h.writePump(conn, c)

	ctx := r.Context()
	snap, err := h.service.ConnectVisitor(ctx, c, connect.Name, connect.Email, clientMeta(r))
	if err != nil {
		h.reportError(c, err)
		return
	}
	convID := snap.Conversation.ID

	defer h.service.DisconnectVisitor(c)

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		h.dispatchVisitor(ctx, c, convID, ev)
	}
}

func (h *SocketHandler) dispatchVisitor(ctx context.Context, c *Client, convID uuid.UUID, ev Event) {
	switch ev.Type {
	case EvSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			sendError(c, "validation", "malformed payload")
			return
		}
		if err := h.service.HandleVisitorMessage(ctx, c.VisitorID, p.Text); err != nil {
			h.reportError(c, err)
		}
	case EvTyping, EvStopTyping:
		h.service.VisitorTyping(c.VisitorID, convID, ev.Type == EvTyping)
	default:
		sendError(c, "validation", "unknown event type")
	}
}

// HandleAdmin is the HTTP handler for /ws/admin. The first event must be
// a join; the admin key is supplied via the X-Admin-Key header or `key`
// query parameter.
func (h *SocketHandler) HandleAdmin(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Admin-Key")
	if key == "" {
		key = r.URL.Query().Get("key")
	}
	if h.adminAuth != nil && !h.adminAuth(key) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxFrame)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var first Event
	if err := conn.ReadJSON(&first); err != nil || first.Type != EvJoin {
		return
	}
	var join JoinPayload
	if err := json.Unmarshal(first.Payload, &join); err != nil || join.AdminName == "" {
		conn.WriteJSON(NewEvent(EvError, ErrorPayload{Code: "validation", Message: "admin name is required"}))
		return
	}

	c := NewAdminClient(join.AdminID, join.AdminName)
	defer c.Close()
	go h.writePump(conn, c)

	ctx := r.Context()
	h.service.ConnectAdmin(c)
	defer h.service.DisconnectAdmin(c)

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		h.dispatchAdmin(ctx, c, ev)
	}
}

func (h *SocketHandler) dispatchAdmin(ctx context.Context, c *Client, ev Event) {
	switch ev.Type {
	case EvOpenChat:
		var p OpenChatPayload
		convID, ok := h.conversationID(c, ev.Payload, &p, &p.ConversationID)
		if !ok {
			return
		}
		if err := h.service.OpenChat(ctx, c, convID); err != nil {
			h.reportError(c, err)
		}
	case EvSendReply:
		var p SendReplyPayload
		convID, ok := h.conversationID(c, ev.Payload, &p, &p.ConversationID)
		if !ok {
			return
		}
		agent := p.AgentName
		if agent == "" {
			agent = c.Name
		}
		if _, err := h.service.HandleAdminReply(ctx, convID, p.Text, agent); err != nil {
			h.reportError(c, err)
		}
	case EvMarkRead:
		var p OpenChatPayload
		convID, ok := h.conversationID(c, ev.Payload, &p, &p.ConversationID)
		if !ok {
			return
		}
		if _, err := h.service.MarkRead(ctx, convID); err != nil {
			h.reportError(c, err)
		}
	case EvCloseChat:
		var p OpenChatPayload
		convID, ok := h.conversationID(c, ev.Payload, &p, &p.ConversationID)
		if !ok {
			return
		}
		if err := h.service.Close(ctx, convID, c.Name); err != nil {
			h.reportError(c, err)
		}
	case EvTyping, EvStopTyping:
		var p TypingPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			sendError(c, "validation", "malformed payload")
			return
		}
		convID, err := uuid.Parse(p.ConversationID)
		if err != nil {
			sendError(c, "validation", "invalid conversation id")
			return
		}
		h.service.AdminTyping(p.VisitorID, convID, ev.Type == EvTyping)
	default:
		sendError(c, "validation", "unknown event type")
	}
}

// conversationID decodes an admin payload and parses its conversation ID,
// reporting validation errors to the origin.
func (h *SocketHandler) conversationID(c *Client, raw json.RawMessage, dst any, idField *string) (uuid.UUID, bool) {
	if err := json.Unmarshal(raw, dst); err != nil {
		sendError(c, "validation", "malformed payload")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(*idField)
	if err != nil {
		sendError(c, "validation", "invalid conversation id")
		return uuid.Nil, false
	}
	return id, true
}
