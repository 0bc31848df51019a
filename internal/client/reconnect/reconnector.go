// Package reconnect owns the client side of a chat connection. A Reconnector
// authenticates, keeps the connection alive with heartbeats, acknowledges
// incoming messages and, when the transport fails, resumes the session with
// its token and rejoins every room it was in.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/protocol"
	"github.com/dmitrijs2005/gophchat/internal/transport"
)

// Dialer opens a fresh transport to the server.
type Dialer func(ctx context.Context) (transport.LineConn, error)

type Config struct {
	Dial Dialer

	HeartbeatInterval time.Duration
	// LivenessTimeout is how long the connection may stay silent before it
	// is considered dead. Heartbeat acks count as traffic.
	LivenessTimeout time.Duration

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Growth      float64
	MaxAttempts int // 0 retries forever

	UpdateBuffer int
	Log          logging.Logger
}

const (
	defaultHeartbeat    = 5 * time.Second
	defaultBaseDelay    = 500 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
	defaultGrowth       = 2.0
	defaultUpdateBuffer = 256
)

type Reconnector struct {
	cfg Config
	log logging.Logger

	state atomic.Int32

	mu     sync.RWMutex
	conn   transport.LineConn
	token  string
	user   string
	rooms  map[string]struct{}
	active string
	// rejoining holds rooms asked back after a reconnect, in the order the
	// REJOIN frames were written, until the server answers each one.
	rejoining    []string
	resumeActive string

	wmu sync.Mutex

	updates  chan Update
	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config) *Reconnector {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 3 * cfg.HeartbeatInterval
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	if cfg.Growth < 1 {
		cfg.Growth = defaultGrowth
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = defaultUpdateBuffer
	}
	if cfg.Log == nil {
		cfg.Log = logging.NewNop()
	}
	return &Reconnector{
		cfg:     cfg,
		log:     cfg.Log.With("module", "reconnect"),
		rooms:   make(map[string]struct{}),
		updates: make(chan Update, cfg.UpdateBuffer),
		stop:    make(chan struct{}),
	}
}

// Updates delivers server frames and state changes. It is never closed.
func (r *Reconnector) Updates() <-chan Update {
	return r.updates
}

func (r *Reconnector) State() State {
	return State(r.state.Load())
}

func (r *Reconnector) Token() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

func (r *Reconnector) UserName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.user
}

// Login authenticates with a username and password. It reports whether the
// account was created by this login.
func (r *Reconnector) Login(ctx context.Context, user, password string) (bool, error) {
	return r.credentials(ctx, protocol.Command{Verb: protocol.VerbLogin, User: user, Password: password}, user)
}

// Register creates an account and fails if the name is taken.
func (r *Reconnector) Register(ctx context.Context, user, password string) error {
	_, err := r.credentials(ctx, protocol.Command{Verb: protocol.VerbRegister, User: user, Password: password}, user)
	return err
}

func (r *Reconnector) credentials(ctx context.Context, cmd protocol.Command, user string) (bool, error) {
	r.setState(StateConnecting)
	ev, err := r.handshake(ctx, cmd.String())
	if err != nil {
		r.setState(StateDisconnected)
		return false, err
	}

	r.mu.Lock()
	r.token = ev.Token
	r.user = user
	r.mu.Unlock()

	r.setState(StateAuthenticated)
	return ev.Verb == protocol.VerbAuthNew, nil
}

// Resume authenticates with a token saved from an earlier session.
func (r *Reconnector) Resume(ctx context.Context, token string) error {
	r.setState(StateConnecting)
	ev, err := r.handshake(ctx, protocol.Command{Verb: protocol.VerbToken, Token: token}.String())
	if err != nil {
		r.setState(StateDisconnected)
		return err
	}

	r.mu.Lock()
	r.token = token
	r.user = ev.User
	r.mu.Unlock()

	r.setState(StateAuthenticated)
	return nil
}

// Run drives an authenticated connection until logout, Stop, ctx
// cancellation or an unrecoverable failure. A lost connection is recovered
// transparently. Run returns nil after a logout.
func (r *Reconnector) Run(ctx context.Context) error {
	if r.stopped() {
		return ErrStopped
	}
	if r.State() != StateAuthenticated {
		return ErrNotConnected
	}
	r.setState(StateActive)

	for {
		conn := r.current()
		err := r.serve(ctx, conn)
		_ = conn.Close()

		switch {
		case err == nil:
			r.finish(true)
			return nil
		case r.stopped():
			r.finish(false)
			return ErrStopped
		case ctx.Err() != nil:
			r.finish(false)
			return ctx.Err()
		}

		snap := r.Snapshot()
		r.log.Warn(ctx, "connection lost", "error", err, "rooms", len(snap.Rooms))
		r.setState(StateRecovering)

		if err := r.recover(ctx, snap); err != nil {
			r.log.Error(ctx, "recovery failed", "error", err)
			r.finish(errors.Is(err, ErrSessionLost))
			return err
		}
		r.setState(StateActive)
	}
}

// Stop interrupts Run at its next suspension point. Safe to call more than
// once.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		if conn := r.current(); conn != nil {
			_ = conn.Close()
		}
	})
}

// Snapshot returns the joined rooms, sorted, and the active room. Rooms still
// waiting for a REJOINED answer are included.
func (r *Reconnector) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.rooms)+len(r.rejoining))
	for name := range r.rooms {
		rooms = append(rooms, name)
	}
	for _, name := range r.rejoining {
		if _, ok := r.rooms[name]; !ok {
			rooms = append(rooms, name)
		}
	}
	slices.Sort(rooms)
	return Snapshot{Rooms: rooms, Active: r.activeLocked()}
}

// ActiveRoom is the room plain text is sent to.
func (r *Reconnector) ActiveRoom() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *Reconnector) activeLocked() string {
	if r.active == "" {
		return r.resumeActive
	}
	return r.active
}

// SetActive switches the active room to one already joined.
func (r *Reconnector) SetActive(room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room]; !ok {
		return fmt.Errorf("%w: %s", ErrNotJoined, room)
	}
	r.active = room
	return nil
}

// Send writes a raw frame on the current connection. It works from the
// moment authentication succeeds, before Run has started, and fails while a
// lost connection is being recovered.
func (r *Reconnector) Send(line string) error {
	conn, err := r.connected()
	if err != nil {
		return err
	}
	return r.write(conn, line)
}

func (r *Reconnector) connected() (transport.LineConn, error) {
	switch r.State() {
	case StateAuthenticated, StateActive:
	default:
		return nil, ErrNotConnected
	}
	conn := r.current()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn, nil
}

func (r *Reconnector) Join(room string) error {
	return r.Send(protocol.Command{Verb: protocol.VerbJoin, Room: room}.String())
}

// JoinAssisted joins or creates a room with generated replies. An empty
// instruction lets the server pick its default.
func (r *Reconnector) JoinAssisted(room, instruction string) error {
	return r.Send(protocol.Command{Verb: protocol.VerbJoin, Room: room, Assisted: true, Instruction: instruction}.String())
}

func (r *Reconnector) Leave(room string) error {
	return r.Send(protocol.Command{Verb: protocol.VerbLeave, Room: room}.String())
}

// Message sends text to the active room.
func (r *Reconnector) Message(text string) error {
	if _, err := r.connected(); err != nil {
		return err
	}
	room := r.ActiveRoom()
	if room == "" {
		return ErrNoActiveRoom
	}
	return r.Send(protocol.Command{Verb: protocol.VerbMessage, Room: room, Text: text}.String())
}

func (r *Reconnector) RequestRooms() error {
	return r.Send(string(protocol.VerbRooms))
}

func (r *Reconnector) RequestUsers(room string) error {
	return r.Send(protocol.Command{Verb: protocol.VerbUsers, Room: room}.String())
}

// Logout asks the server to end the session; Run returns once BYE arrives.
func (r *Reconnector) Logout() error {
	return r.Send(string(protocol.VerbLogout))
}

// handshake dials, sends an authentication frame and waits for the answer.
// On success the new connection becomes current.
func (r *Reconnector) handshake(ctx context.Context, frame string) (protocol.Event, error) {
	if r.stopped() {
		return protocol.Event{}, ErrStopped
	}

	conn, err := r.cfg.Dial(ctx)
	if err != nil {
		return protocol.Event{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	release := r.watch(ctx, conn)
	defer release()

	if err := conn.WriteLine(frame); err != nil {
		_ = conn.Close()
		return protocol.Event{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(r.cfg.LivenessTimeout))
	line, err := conn.ReadLine()
	if err != nil {
		_ = conn.Close()
		return protocol.Event{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ev, err := protocol.ParseEvent(line)
	if err != nil {
		_ = conn.Close()
		return protocol.Event{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch ev.Verb {
	case protocol.VerbAuthOK, protocol.VerbAuthNew, protocol.VerbSessionResumed:
		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()
		return ev, nil
	case protocol.VerbAuthFail:
		_ = conn.Close()
		return protocol.Event{}, fmt.Errorf("%w: %s", ErrUnauthorized, ev.Reason)
	default:
		_ = conn.Close()
		return protocol.Event{}, fmt.Errorf("%w: unexpected %s", ErrUnavailable, ev.Verb)
	}
}

// serve reads frames from conn until it fails. It returns nil when the
// server says BYE.
func (r *Reconnector) serve(ctx context.Context, conn transport.LineConn) error {
	release := r.watch(ctx, conn)
	defer release()

	done := make(chan struct{})
	defer close(done)
	go r.heartbeat(conn, done)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.LivenessTimeout))
		line, err := conn.ReadLine()
		if err != nil {
			return err
		}

		ev, err := protocol.ParseEvent(line)
		if err != nil {
			r.log.Warn(ctx, "unparsable frame", "error", err)
			continue
		}

		r.observe(ev)
		if ev.Verb == protocol.VerbMessage {
			if err := r.write(conn, protocol.Command{Verb: protocol.VerbAck, ID: ev.ID}.String()); err != nil {
				return err
			}
		}

		r.publish(ctx, Update{Kind: UpdateEvent, Event: ev})
		if ev.Verb == protocol.VerbBye {
			return nil
		}
	}
}

func (r *Reconnector) heartbeat(conn transport.LineConn, done <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.write(conn, string(protocol.VerbHeartbeat)); err != nil {
				return
			}
		}
	}
}

// recover retries the token resume on the backoff schedule, then replays
// the captured membership.
func (r *Reconnector) recover(ctx context.Context, snap Snapshot) error {
	b := newBackOff(r.cfg)
	frame := protocol.Command{Verb: protocol.VerbToken, Token: r.Token()}.String()

	for attempt := 1; ; attempt++ {
		if r.cfg.MaxAttempts > 0 && attempt > r.cfg.MaxAttempts {
			return fmt.Errorf("%w: gave up after %d attempts", ErrUnavailable, r.cfg.MaxAttempts)
		}

		delay := b.NextBackOff()
		r.log.Info(ctx, "reconnecting", "attempt", attempt, "delay", delay)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}

		_, err := r.handshake(ctx, frame)
		if errors.Is(err, ErrUnauthorized) {
			return fmt.Errorf("%w: %v", ErrSessionLost, err)
		}
		if err != nil {
			r.log.Warn(ctx, "reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		r.beginRejoin(snap)
		conn := r.current()
		for _, room := range snap.Rooms {
			// a failed write surfaces as a read error in serve
			if err := r.write(conn, protocol.Command{Verb: protocol.VerbRejoin, Room: room}.String()); err != nil {
				break
			}
		}
		r.log.Info(ctx, "session resumed", "attempt", attempt, "rooms", len(snap.Rooms))
		return nil
	}
}

func (r *Reconnector) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stop:
		return ErrStopped
	}
}

// watch closes conn when ctx ends or Stop is called, until released.
func (r *Reconnector) watch(ctx context.Context, conn transport.LineConn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-r.stop:
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (r *Reconnector) observe(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Verb {
	case protocol.VerbJoined:
		r.rooms[ev.Room] = struct{}{}
		r.active = ev.Room
	case protocol.VerbRejoined:
		r.rejoining = slices.DeleteFunc(r.rejoining, func(name string) bool { return name == ev.Room })
		r.rooms[ev.Room] = struct{}{}
		switch {
		case ev.Room == r.resumeActive:
			r.active = ev.Room
			r.resumeActive = ""
		case r.active == "" && r.resumeActive == "":
			r.active = ev.Room
		}
	case protocol.VerbError:
		// the server answers REJOINs in order, so a missing room is the
		// oldest one still unanswered
		if ev.Reason != protocol.ReasonRoomNotFound || len(r.rejoining) == 0 {
			return
		}
		gone := r.rejoining[0]
		r.rejoining = r.rejoining[1:]
		if gone == r.resumeActive {
			r.resumeActive = ""
			r.active = firstRoom(r.rooms)
		}
	case protocol.VerbLeft:
		delete(r.rooms, ev.Room)
		if r.active == ev.Room {
			r.active = ""
		}
	}
}

// firstRoom returns the alphabetically first room, or "" for none.
func firstRoom(rooms map[string]struct{}) string {
	first := ""
	for name := range rooms {
		if first == "" || name < first {
			first = name
		}
	}
	return first
}

// beginRejoin clears the membership of the dead connection. Rooms come back
// one by one as REJOINED arrives.
func (r *Reconnector) beginRejoin(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms = make(map[string]struct{}, len(snap.Rooms))
	r.rejoining = slices.Clone(snap.Rooms)
	r.active = ""
	r.resumeActive = snap.Active
}

// finish drops the connection. After a logout or a lost session the token
// and membership are useless and are forgotten too.
func (r *Reconnector) finish(forget bool) {
	r.mu.Lock()
	r.conn = nil
	if forget {
		r.token = ""
		r.rooms = make(map[string]struct{})
		r.active = ""
		r.rejoining = nil
		r.resumeActive = ""
	}
	r.mu.Unlock()
	r.setState(StateDisconnected)
}

func (r *Reconnector) current() transport.LineConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

func (r *Reconnector) write(conn transport.LineConn, line string) error {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	return conn.WriteLine(line)
}

func (r *Reconnector) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *Reconnector) publish(ctx context.Context, u Update) {
	select {
	case r.updates <- u:
	case <-ctx.Done():
	case <-r.stop:
	}
}

// setState records s and tells the UI if there is room in the buffer.
func (r *Reconnector) setState(s State) {
	if State(r.state.Swap(int32(s))) == s {
		return
	}
	select {
	case r.updates <- Update{Kind: UpdateState, State: s}:
	default:
	}
}
