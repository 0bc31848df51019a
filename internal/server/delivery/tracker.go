// Package delivery keeps broadcast messages that still wait for an ACK.
//
// Delivery is at-most-once: entries that time out are dropped and logged,
// never resent.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/logging"
)

// PendingMessage is a broadcast not yet acknowledged.
type PendingMessage struct {
	ID     string
	Room   string
	Sender string
	SentAt time.Time
}

// Tracker maps message ids to pending records.
type Tracker struct {
	mu      sync.RWMutex
	pending map[string]PendingMessage
	log     logging.Logger
}

func NewTracker(log logging.Logger) *Tracker {
	return &Tracker{
		pending: make(map[string]PendingMessage),
		log:     log.With("module", "delivery"),
	}
}

// Track records a freshly broadcast message.
func (t *Tracker) Track(id, room, sender string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = PendingMessage{ID: id, Room: room, Sender: sender, SentAt: now}
}

// Acknowledge removes id and reports whether it was pending.
func (t *Tracker) Acknowledge(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[id]; !ok {
		return false
	}
	delete(t.pending, id)
	return true
}

func (t *Tracker) Pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

// IsPending reports whether id still waits for an ACK.
func (t *Tracker) IsPending(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.pending[id]
	return ok
}

// Sweep drops and returns every entry older than timeout at now.
func (t *Tracker) Sweep(ctx context.Context, now time.Time, timeout time.Duration) []PendingMessage {
	t.mu.Lock()
	var expired []PendingMessage
	for id, p := range t.pending {
		if now.Sub(p.SentAt) > timeout {
			expired = append(expired, p)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, p := range expired {
		t.log.Warn(ctx, "message delivery timed out",
			"id", p.ID, "room", p.Room, "sender", p.Sender, "age", now.Sub(p.SentAt))
	}
	return expired
}
