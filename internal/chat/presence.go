package chat

import "sync"

// Presence is the process-local registry of live connections. It is
// rebuilt empty on every process start and never persisted; a conversation
// can exist with no presence entry. It is an injected, single-owner
// object, not a package-level singleton.
type Presence struct {
	mu       sync.RWMutex
	visitors map[string]*Client // visitor ID -> connection
	admins   map[string]*Client // admin ID (or connection ID) -> connection
}

// NewPresence creates an empty registry.
func NewPresence() *Presence {
	return &Presence{
		visitors: make(map[string]*Client),
		admins:   make(map[string]*Client),
	}
}

// AddVisitor registers a visitor connection, replacing any previous
// connection for the same visitor ID (e.g. a page refresh racing its own
// disconnect).
func (p *Presence) AddVisitor(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visitors[c.VisitorID] = c
}

// RemoveVisitor removes a visitor connection. It is a no-op if the
// registered connection is not the one being removed, so a reconnect that
// overtook its predecessor's disconnect is not dropped.
func (p *Presence) RemoveVisitor(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.visitors[c.VisitorID]; ok && cur == c {
		delete(p.visitors, c.VisitorID)
		return true
	}
	return false
}

// Visitor returns the live connection for a visitor ID, or nil.
func (p *Presence) Visitor(visitorID string) *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.visitors[visitorID]
}

// AddAdmin registers an admin connection.
func (p *Presence) AddAdmin(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.admins[c.AdminID] = c
}

// RemoveAdmin removes an admin connection. Like RemoveVisitor it reports
// whether the registry changed, and no-ops on a connection a reconnect has
// already replaced.
func (p *Presence) RemoveAdmin(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.admins[c.AdminID]; ok && cur == c {
		delete(p.admins, c.AdminID)
		return true
	}
	return false
}

// Admins returns a snapshot of all connected admin clients.
func (p *Presence) Admins() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Client, 0, len(p.admins))
	for _, c := range p.admins {
		out = append(out, c)
	}
	return out
}

// Snapshot returns aggregate connection counts (counts only, not
// identities).
func (p *Presence) Snapshot() StatsPayload {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return StatsPayload{Visitors: len(p.visitors), Admins: len(p.admins)}
}
