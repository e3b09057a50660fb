package chat

import (
	"sync"

	"github.com/google/uuid"
)

// ClientKind distinguishes visitor and admin connections.
type ClientKind string

const (
	KindVisitor ClientKind = "visitor"
	KindAdmin   ClientKind = "admin"
)

const defaultSendQueue = 64

// Client represents one connected session. Send is intentionally never
// closed by broadcasters; done signals the write pump to stop, and Close
// is idempotent.
type Client struct {
	ID        string // connection ID
	Kind      ClientKind
	VisitorID string // set for visitor clients
	AdminID   string // set for admin clients; falls back to ID
	Name      string
	Send      chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewVisitorClient constructs a client for a visitor connection with a
// bounded send queue.
func NewVisitorClient(visitorID string) *Client {
	return &Client{
		ID:        uuid.New().String(),
		Kind:      KindVisitor,
		VisitorID: visitorID,
		Send:      make(chan Event, defaultSendQueue),
		done:      make(chan struct{}),
	}
}

// NewAdminClient constructs a client for an admin connection. If no stable
// admin ID is supplied the connection ID is used.
func NewAdminClient(adminID, name string) *Client {
	id := uuid.New().String()
	if adminID == "" {
		adminID = id
	}
	return &Client{
		ID:      id,
		Kind:    KindAdmin,
		AdminID: adminID,
		Name:    name,
		Send:    make(chan Event, defaultSendQueue),
		done:    make(chan struct{}),
	}
}

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close signals the client's goroutines to stop. It does not close Send,
// keeping broadcast safe under concurrency.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// push enqueues an event without blocking. A slow client drops events;
// it must re-fetch state on reconnect via history replay.
func (c *Client) push(ev Event) bool {
	select {
	case c.Send <- ev:
		return true
	default:
		return false
	}
}
