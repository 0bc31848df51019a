// Package heartbeat detects sessions that stopped sending frames.
package heartbeat

import (
	"sync"
	"time"
)

// Evictable is a session the monitor can disconnect.
type Evictable interface {
	ID() string
	// Evict removes the session from its rooms and closes its transport.
	Evict(reason string)
}

type entry struct {
	s        Evictable
	lastSeen time.Time
}

// Monitor keeps the last-seen time of every live session.
type Monitor struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

func NewMonitor() *Monitor {
	return &Monitor{sessions: make(map[string]*entry)}
}

// Register starts watching s.
func (m *Monitor) Register(s Evictable, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = &entry{s: s, lastSeen: now}
}

// Touch marks the session as seen at now. Unknown ids are ignored.
func (m *Monitor) Touch(id string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		e.lastSeen = now
	}
}

func (m *Monitor) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Watching reports whether id is registered.
func (m *Monitor) Watching(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions silent for longer than staleAfter and returns their
// ids. Evict callbacks run after the lock is released.
func (m *Monitor) Sweep(now time.Time, staleAfter time.Duration) []string {
	m.mu.Lock()
	var stale []Evictable
	for id, e := range m.sessions {
		if now.Sub(e.lastSeen) > staleAfter {
			stale = append(stale, e.s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, s := range stale {
		s.Evict("heartbeat timeout")
		ids = append(ids, s.ID())
	}
	return ids
}
