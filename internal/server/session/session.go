package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/server/rooms"
	"github.com/dmitrijs2005/gophchat/internal/transport"
	"github.com/google/uuid"
)

// State is the lifecycle stage of a session.
type State int32

const (
	StateConnected State = iota
	StateAuthenticating
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Session is one client connection. Frames to the client go through a
// bounded queue drained by a writer goroutine, so a slow client never blocks
// a broadcast.
type Session struct {
	id   string
	addr string
	conn transport.LineConn
	log  logging.Logger

	out        chan string
	quit       chan struct{}
	writerDone chan struct{}
	closed     atomic.Bool
	state      atomic.Int32

	mu     sync.Mutex
	user   string
	joined map[string]*rooms.Room
}

func newSession(conn transport.LineConn, queue int, log logging.Logger) *Session {
	if queue <= 0 {
		queue = 1
	}
	id := uuid.NewString()
	addr := transport.HostOf(conn.RemoteAddr())
	return &Session{
		id:         id,
		addr:       addr,
		conn:       conn,
		log:        log.With("session", id, "remote", addr),
		out:        make(chan string, queue),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
		joined:     make(map[string]*rooms.Room),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Deliver queues a frame. A full queue means the client cannot keep up and
// the session is evicted. Deliver never takes a room lock, so rooms may call
// it while holding theirs.
func (s *Session) Deliver(line string) {
	if s.closed.Load() {
		return
	}
	select {
	case s.out <- line:
	default:
		go s.Evict("outbound queue full")
	}
}

// Evict removes the session from its rooms and closes the transport. The
// handler goroutine notices the closed transport and finishes the cleanup.
func (s *Session) Evict(reason string) {
	if !s.markClosed() {
		return
	}
	s.log.Info(context.Background(), "session evicted", "user", s.UserName(), "reason", reason)
	s.leaveAll()
	_ = s.conn.Close()
}

// Rooms returns the names of the joined rooms.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.joined))
	for name := range s.joined {
		names = append(names, name)
	}
	return names
}

func (s *Session) markClosed() bool {
	return s.closed.CompareAndSwap(false, true)
}

func (s *Session) setUser(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// remember records a joined room. It refuses once the session is closed so
// an eviction racing with a join cannot leave a ghost member behind.
func (s *Session) remember(r *rooms.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.joined[r.Name()] = r
	return true
}

func (s *Session) forget(name string) (*rooms.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.joined[name]
	if ok {
		delete(s.joined, name)
	}
	return r, ok
}

func (s *Session) joinedRoom(name string) (*rooms.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.joined[name]
	return r, ok
}

func (s *Session) leaveAll() {
	s.mu.Lock()
	joined := s.joined
	s.joined = make(map[string]*rooms.Room)
	user := s.user
	s.mu.Unlock()

	for _, r := range joined {
		if r.RemoveMember(s) {
			r.Announce(user + " left")
		}
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		select {
		case line := <-s.out:
			if err := s.conn.WriteLine(line); err != nil {
				s.log.Debug(context.Background(), "write failed", "error", err)
				s.markClosed()
				_ = s.conn.Close()
				return
			}
		case <-s.quit:
			s.flush()
			return
		}
	}
}

// flush writes whatever is already queued.
func (s *Session) flush() {
	for {
		select {
		case line := <-s.out:
			if err := s.conn.WriteLine(line); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) stopWriter() {
	close(s.quit)
	<-s.writerDone
}
