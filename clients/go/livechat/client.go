// Package livechat provides a minimal Go client for the visitor side of
// the livechat websocket protocol. It is intended for smoke testing and
// for embedding the widget protocol in other Go programs.
package livechat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event mirrors the server's wire envelope.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is a single chat message as delivered by the server.
type Message struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	SenderName string    `json:"sender_name,omitempty"`
	Body       string    `json:"body"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// History is the conversation snapshot sent on connect.
type History struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	Phase          string    `json:"phase"`
	AgentName      string    `json:"agent_name,omitempty"`
	AgentAvatar    string    `json:"agent_avatar,omitempty"`
}

// Client is a visitor websocket client.
type Client struct {
	baseURL   string
	visitorID string

	conn   *websocket.Conn
	events chan Event

	mu     sync.Mutex // guards writes to conn
	closed bool
}

// Dial connects to the server's visitor endpoint and performs the
// connect handshake. baseURL is the HTTP origin, e.g. "http://localhost:8080".
func Dial(ctx context.Context, baseURL, visitorID string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/visitor"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		baseURL:   baseURL,
		visitorID: visitorID,
		conn:      conn,
		events:    make(chan Event, 32),
	}

	if err := c.send("connect", map[string]string{"visitor_id": visitorID}); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// Events returns the stream of server events. The channel closes when
// the connection drops.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Send delivers a visitor chat message.
func (c *Client) Send(text string) error {
	return c.send("send_message", map[string]string{
		"visitor_id": c.visitorID,
		"text":       text,
	})
}

// Typing signals that the visitor is composing a message.
func (c *Client) Typing(active bool) error {
	typ := "typing"
	if !active {
		typ = "stop_typing"
	}
	return c.send(typ, map[string]string{"visitor_id": c.visitorID})
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *Client) send(typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client closed")
	}
	return c.conn.WriteJSON(Event{Type: typ, Payload: data})
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			return
		}
		select {
		case c.events <- ev:
		default:
			// Drop events rather than block the read loop.
		}
	}
}

// DecodeHistory decodes a "history" event payload.
func DecodeHistory(ev Event) (History, error) {
	var h History
	if ev.Type != "history" {
		return h, fmt.Errorf("unexpected event type %q", ev.Type)
	}
	err := json.Unmarshal(ev.Payload, &h)
	return h, err
}
