package chat

import "sync"

// visitorLocks serializes conversation mutations per visitor ID so that
// two near-simultaneous events for the same visitor (e.g. a double-submit
// across two connections) cannot produce a lost update. Entries are never
// evicted; the map is bounded by the number of distinct visitors seen by
// this process.
type visitorLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newVisitorLocks() *visitorLocks {
	return &visitorLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the mutex for a visitor ID and returns its unlock func.
func (l *visitorLocks) acquire(visitorID string) func() {
	l.mu.Lock()
	m, ok := l.locks[visitorID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[visitorID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
