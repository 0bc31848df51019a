package rooms

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/protocol"
	"github.com/dmitrijs2005/gophchat/internal/server/assistant"
	"github.com/dmitrijs2005/gophchat/internal/server/delivery"
	"github.com/google/uuid"
)

// Apology replaces the assistant reply when the completion service fails.
const Apology = "Sorry, AI request failed."

var errEmptyReply = errors.New("empty assistant reply")

// Kind tells plain rooms from rooms with an assistant.
type Kind int

const (
	Plain Kind = iota
	AssistedReply
)

// Member is a session that can be placed in a room.
type Member interface {
	ID() string
	UserName() string
	// Deliver queues a frame without blocking.
	Deliver(line string)
}

// Room is a named channel with a bounded history.
type Room struct {
	name        string
	kind        Kind
	instruction string

	mu      sync.RWMutex
	members map[string]Member
	history []protocol.HistoryEntry

	env     *environment
	replies sync.WaitGroup
}

func newRoom(name string, kind Kind, instruction string, env *environment) *Room {
	return &Room{
		name:        name,
		kind:        kind,
		instruction: instruction,
		members:     make(map[string]Member),
		env:         env,
	}
}

func (r *Room) Name() string        { return r.name }
func (r *Room) Kind() Kind          { return r.kind }
func (r *Room) Instruction() string { return r.instruction }

// AddMember reports false when m was already present.
func (r *Room) AddMember(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.add(m)
}

// Enter adds m and queues ack followed by the stored history to it, all
// under the room lock, so any broadcast m receives comes after both and none
// falls between the history and membership. It reports false, and queues
// nothing, when m was already present.
func (r *Room) Enter(m Member, ack string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[m.ID()]; ok {
		return false
	}
	m.Deliver(ack)
	if len(r.history) > 0 {
		m.Deliver(protocol.History(r.history))
	}
	return r.add(m)
}

// add must be called with mu held.
func (r *Room) add(m Member) bool {
	if _, ok := r.members[m.ID()]; ok {
		return false
	}
	r.members[m.ID()] = m
	return true
}

// RemoveMember reports false when m was not present. The room stays even when
// it becomes empty.
func (r *Room) RemoveMember(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[m.ID()]; !ok {
		return false
	}
	delete(r.members, m.ID())
	return true
}

func (r *Room) IsMember(m Member) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[m.ID()]
	return ok
}

// Members returns the sorted user names present in the room.
func (r *Room) Members() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.UserName())
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// History returns a copy of the stored messages, oldest first.
func (r *Room) History() []protocol.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]protocol.HistoryEntry(nil), r.history...)
}

// Broadcast sends body from sender to every member, sender included, and
// returns the message id. In an assisted room a reply is requested in the
// background.
func (r *Room) Broadcast(body, sender string) string {
	id := uuid.NewString()
	r.env.tracker.Track(id, r.name, sender, r.env.now())

	r.mu.Lock()
	r.history = append(r.history, protocol.HistoryEntry{Sender: sender, Text: body})
	if over := len(r.history) - r.env.historyCap; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
	targets := r.snapshot()
	var tail []protocol.HistoryEntry
	wantReply := r.kind == AssistedReply && sender != protocol.AssistantName
	if wantReply {
		tail = r.tail(r.env.contextLines)
	}
	r.mu.Unlock()

	line := protocol.Message(r.name, sender, body, id)
	for _, m := range targets {
		m.Deliver(line)
	}

	if wantReply {
		r.replies.Add(1)
		go r.reply(tail)
	}
	return id
}

// Announce sends a SYSTEM line to the members. It is neither tracked nor
// stored.
func (r *Room) Announce(text string) {
	r.mu.RLock()
	targets := r.snapshot()
	r.mu.RUnlock()

	line := protocol.System(r.name, text)
	for _, m := range targets {
		m.Deliver(line)
	}
}

// Wait blocks until in-flight assistant replies finish.
func (r *Room) Wait() {
	r.replies.Wait()
}

func (r *Room) reply(tail []protocol.HistoryEntry) {
	defer r.replies.Done()

	ctx := r.env.ctx
	if r.env.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.env.timeout)
		defer cancel()
	}

	text, err := r.env.completer.Complete(ctx, buildPrompt(r.instruction, tail))
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyReply
	}
	if err != nil {
		r.env.log.Warn(ctx, "assistant request failed", "room", r.name, "error", err)
		text = Apology
	}
	if r.env.ctx.Err() != nil {
		return
	}
	r.Broadcast(sanitize(text), protocol.AssistantName)
}

// snapshot and tail must be called with mu held.
func (r *Room) snapshot() []Member {
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

func (r *Room) tail(n int) []protocol.HistoryEntry {
	start := len(r.history) - n
	if n <= 0 || start < 0 {
		start = 0
	}
	return append([]protocol.HistoryEntry(nil), r.history[start:]...)
}

func buildPrompt(instruction string, tail []protocol.HistoryEntry) string {
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n")
	for i, e := range tail {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(e.Sender)
		b.WriteString(": ")
		b.WriteString(e.Text)
	}
	b.WriteString("\n")
	b.WriteString(protocol.AssistantName)
	b.WriteString(":")
	return b.String()
}

// sanitize folds a multi-line completion into one frame.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

type environment struct {
	ctx          context.Context
	tracker      *delivery.Tracker
	completer    assistant.Completer
	log          logging.Logger
	historyCap   int
	contextLines int
	timeout      time.Duration
	now          func() time.Time
}
