// Package rooms holds the chat rooms, their members and their recent
// history.
package rooms

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/protocol"
	"github.com/dmitrijs2005/gophchat/internal/server/assistant"
	"github.com/dmitrijs2005/gophchat/internal/server/delivery"
)

const (
	DefaultHistoryCapacity  = 50
	DefaultAssistantContext = 10

	// DefaultInstruction is used for assisted rooms created without one.
	DefaultInstruction = "You are a helpful assistant named Bot in a chat room."
)

// Options configures a Registry. Zero sizes fall back to the defaults.
type Options struct {
	HistoryCapacity  int
	AssistantContext int
	AssistantTimeout time.Duration
	Completer        assistant.Completer
	Tracker          *delivery.Tracker
	Log              logging.Logger
}

// Registry maps room names to rooms.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	env    *environment
	cancel context.CancelFunc
}

func NewRegistry(opts Options) *Registry {
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = DefaultHistoryCapacity
	}
	if opts.AssistantContext <= 0 {
		opts.AssistantContext = DefaultAssistantContext
	}
	if opts.Completer == nil {
		opts.Completer = assistant.Disabled{}
	}
	if opts.Log == nil {
		opts.Log = logging.NewNop()
	}
	if opts.Tracker == nil {
		opts.Tracker = delivery.NewTracker(opts.Log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		rooms: make(map[string]*Room),
		env: &environment{
			ctx:          ctx,
			tracker:      opts.Tracker,
			completer:    opts.Completer,
			log:          opts.Log.With("module", "rooms"),
			historyCap:   opts.HistoryCapacity,
			contextLines: opts.AssistantContext,
			timeout:      opts.AssistantTimeout,
			now:          time.Now,
		},
		cancel: cancel,
	}
}

// CreateDefaults adds the rooms every server starts with.
func (g *Registry) CreateDefaults() {
	g.GetOrCreate("General", Plain, "")
	g.GetOrCreate("Random", Plain, "")
	g.GetOrCreate("AI-Assistant", AssistedReply, "You are a helpful AI assistant in a chat room.")
}

// GetOrCreate returns the room called name, creating it when absent. Exactly
// one concurrent caller sees created == true. An existing room keeps its kind
// and instruction.
func (g *Registry) GetOrCreate(name string, kind Kind, instruction string) (*Room, bool) {
	if r, ok := g.Get(name); ok {
		return r, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.rooms[name]; ok {
		return r, false
	}
	if kind == AssistedReply && instruction == "" {
		instruction = DefaultInstruction
	}
	r := newRoom(name, kind, instruction, g.env)
	g.rooms[name] = r
	return r, true
}

func (g *Registry) Get(name string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[name]
	return r, ok
}

// List describes every room, sorted by name.
func (g *Registry) List() []protocol.RoomInfo {
	g.mu.RLock()
	out := make([]protocol.RoomInfo, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, protocol.RoomInfo{Name: r.name, Assisted: r.kind == AssistedReply})
	}
	g.mu.RUnlock()

	slices.SortFunc(out, func(a, b protocol.RoomInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Wait blocks until every in-flight assistant reply is done.
func (g *Registry) Wait() {
	g.mu.RLock()
	list := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		list = append(list, r)
	}
	g.mu.RUnlock()

	for _, r := range list {
		r.Wait()
	}
}

// Close cancels pending assistant requests and waits for them.
func (g *Registry) Close() {
	g.cancel()
	g.Wait()
}
