// Package session runs the per-connection protocol state machine: it
// authenticates the client and then dispatches its commands to rooms, the
// delivery tracker and the heartbeat monitor.
package session

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/protocol"
	"github.com/dmitrijs2005/gophchat/internal/server/delivery"
	"github.com/dmitrijs2005/gophchat/internal/server/heartbeat"
	"github.com/dmitrijs2005/gophchat/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophchat/internal/server/rooms"
	"github.com/dmitrijs2005/gophchat/internal/server/services"
	"github.com/dmitrijs2005/gophchat/internal/transport"
)

// Credentials verifies or creates user records.
type Credentials interface {
	RegisterOrVerify(ctx context.Context, userName, password string) (services.AuthOutcome, error)
	Register(ctx context.Context, userName, password string) (services.AuthOutcome, error)
}

// Tokens issues and resumes session tokens.
type Tokens interface {
	Issue(ctx context.Context, userName string) (string, error)
	Resume(ctx context.Context, token string) (string, services.ResumeStatus, error)
	Revoke(ctx context.Context, userName string) error
}

// Deps are the shared registries a Handler works with.
type Deps struct {
	Credentials Credentials
	Tokens      Tokens
	Limiter     *ratelimit.Limiter
	Rooms       *rooms.Registry
	Tracker     *delivery.Tracker
	Monitor     *heartbeat.Monitor
	Log         logging.Logger
}

// Config tunes a Handler.
type Config struct {
	// ReadTimeout is how often an active session wakes up to check whether it
	// was evicted.
	ReadTimeout time.Duration
	// AuthTimeout bounds the silence allowed before authentication.
	AuthTimeout   time.Duration
	OutboundQueue int
}

const (
	defaultReadTimeout = 10 * time.Second
	defaultAuthTimeout = 30 * time.Second
	defaultQueue       = 256
)

type Handler struct {
	deps Deps
	cfg  Config
	log  logging.Logger
	now  func() time.Time
}

func NewHandler(deps Deps, cfg Config) *Handler {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = defaultQueue
	}
	if deps.Log == nil {
		deps.Log = logging.NewNop()
	}
	return &Handler{
		deps: deps,
		cfg:  cfg,
		log:  deps.Log.With("module", "session"),
		now:  time.Now,
	}
}

// Serve runs the session on conn until the client leaves, the transport
// fails or ctx is cancelled. The caller must have taken a connection slot
// from the limiter; Serve releases it.
func (h *Handler) Serve(ctx context.Context, conn transport.LineConn) {
	s := newSession(conn, h.cfg.OutboundQueue, h.log)
	defer h.finish(ctx, s)

	stop := context.AfterFunc(ctx, func() {
		if s.markClosed() {
			_ = conn.Close()
		}
	})
	defer stop()

	go s.writeLoop()
	s.setState(StateAuthenticating)
	s.log.Debug(ctx, "connection opened")

	for {
		timeout := h.cfg.AuthTimeout
		if s.State() == StateActive {
			timeout = h.cfg.ReadTimeout
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))

		line, err := conn.ReadLine()
		if err != nil {
			if transport.IsTimeout(err) && s.State() == StateActive && !s.closed.Load() {
				continue
			}
			h.logReadError(ctx, s, err)
			return
		}

		if !h.handleLine(ctx, s, line) {
			return
		}
	}
}

func (h *Handler) handleLine(ctx context.Context, s *Session, line string) bool {
	if s.State() == StateActive {
		h.deps.Monitor.Touch(s.id, h.now())
	}

	cmd, err := protocol.Parse(line)
	if err != nil {
		s.log.Warn(ctx, "malformed frame", "error", err)
		s.Deliver(protocol.Error(parseFailureReason(line)))
		return true
	}

	if s.State() != StateActive {
		return h.authenticate(ctx, s, cmd)
	}
	return h.dispatch(ctx, s, cmd)
}

func (h *Handler) authenticate(ctx context.Context, s *Session, cmd protocol.Command) bool {
	switch cmd.Verb {
	case protocol.VerbLogin, protocol.VerbRegister, protocol.VerbToken:
	default:
		s.Deliver(protocol.AuthFail(protocol.ReasonAuthRequired))
		return true
	}

	if h.deps.Limiter.IsBlocked(s.addr, h.now()) {
		s.log.Warn(ctx, "authentication refused", "error", common.ErrRateLimited)
		s.Deliver(protocol.AuthFail(protocol.ReasonRateLimited))
		return true
	}

	if cmd.Verb != protocol.VerbToken && protocol.ReservedUserName(cmd.User) {
		s.log.Info(ctx, "reserved user name refused", "user", cmd.User)
		s.Deliver(protocol.AuthFail(protocol.ReasonReservedName))
		return true
	}

	switch cmd.Verb {
	case protocol.VerbLogin:
		h.login(ctx, s, cmd)
	case protocol.VerbRegister:
		h.register(ctx, s, cmd)
	case protocol.VerbToken:
		h.resume(ctx, s, cmd.Token)
	}
	return true
}

func (h *Handler) login(ctx context.Context, s *Session, cmd protocol.Command) {
	outcome, err := h.deps.Credentials.RegisterOrVerify(ctx, cmd.User, cmd.Password)
	if err != nil {
		s.log.Error(ctx, "credential check failed", "user", cmd.User, "error", err)
		s.Deliver(protocol.AuthFail(protocol.ReasonInternal))
		return
	}
	if outcome == services.OutcomeRejected {
		h.deps.Limiter.RecordFailure(s.addr, h.now())
		s.log.Info(ctx, "login rejected", "user", cmd.User)
		s.Deliver(protocol.AuthFail(protocol.ReasonInvalidCredentials))
		return
	}
	h.grant(ctx, s, cmd.User, outcome)
}

func (h *Handler) register(ctx context.Context, s *Session, cmd protocol.Command) {
	outcome, err := h.deps.Credentials.Register(ctx, cmd.User, cmd.Password)
	if errors.Is(err, common.ErrUserExists) {
		s.Deliver(protocol.AuthFail(protocol.ReasonUserExists))
		return
	}
	if err != nil {
		s.log.Error(ctx, "registration failed", "user", cmd.User, "error", err)
		s.Deliver(protocol.AuthFail(protocol.ReasonInternal))
		return
	}
	h.grant(ctx, s, cmd.User, outcome)
}

// grant issues a token after a successful LOGIN or REGISTER.
func (h *Handler) grant(ctx context.Context, s *Session, user string, outcome services.AuthOutcome) {
	token, err := h.deps.Tokens.Issue(ctx, user)
	if err != nil {
		s.log.Error(ctx, "token issue failed", "user", user, "error", err)
		s.Deliver(protocol.AuthFail(protocol.ReasonInternal))
		return
	}
	h.deps.Limiter.Reset(s.addr)

	if outcome == services.OutcomeRegistered {
		s.log.Info(ctx, "user registered", "user", user)
		s.Deliver(protocol.AuthNew(token))
	} else {
		s.log.Info(ctx, "user logged in", "user", user)
		s.Deliver(protocol.AuthOK(token))
	}
	h.activate(ctx, s, user)
}

func (h *Handler) resume(ctx context.Context, s *Session, token string) {
	user, status, err := h.deps.Tokens.Resume(ctx, token)
	if err != nil {
		s.log.Warn(ctx, "token cleanup failed", "error", err)
	}

	switch status {
	case services.ResumeFresh:
		h.deps.Limiter.Reset(s.addr)
		s.log.Info(ctx, "session resumed", "user", user)
		s.Deliver(protocol.SessionResumed(user))
		h.activate(ctx, s, user)
	case services.ResumeExpired:
		h.deps.Limiter.RecordFailure(s.addr, h.now())
		s.Deliver(protocol.AuthFail(protocol.ReasonTokenExpired))
	default:
		h.deps.Limiter.RecordFailure(s.addr, h.now())
		s.Deliver(protocol.AuthFail(protocol.ReasonUnknownToken))
	}
}

func (h *Handler) activate(ctx context.Context, s *Session, user string) {
	s.setUser(user)
	s.setState(StateActive)
	h.deps.Monitor.Register(s, h.now())
	s.log.Debug(ctx, "session active", "user", user)
	s.Deliver(protocol.Rooms(h.deps.Rooms.List()))
}

// finish releases everything the session holds. It also stops a panic in
// the session from reaching the acceptor.
func (h *Handler) finish(ctx context.Context, s *Session) {
	if r := recover(); r != nil {
		s.log.Error(ctx, "session panic", "panic", r, "stack", string(debug.Stack()))
	}

	s.setState(StateTerminated)
	h.deps.Monitor.Remove(s.id)
	s.markClosed()
	s.leaveAll()
	s.stopWriter()
	_ = s.conn.Close()
	h.deps.Limiter.Release(s.addr)

	s.log.Debug(ctx, "connection closed")
}

func (h *Handler) logReadError(ctx context.Context, s *Session, err error) {
	switch {
	case errors.Is(err, transport.ErrLineTooLong):
		s.log.Warn(ctx, "frame too long, closing")
	case transport.IsTimeout(err):
		s.log.Info(ctx, "authentication timed out")
	case s.closed.Load(), transport.IsClosed(err):
		s.log.Debug(ctx, "transport closed", "error", err)
	default:
		s.log.Info(ctx, "connection lost", "error", err)
	}
}

func parseFailureReason(line string) string {
	verb, _, _ := strings.Cut(line, ":")
	switch protocol.Verb(verb) {
	case protocol.VerbJoin, protocol.VerbRejoin, protocol.VerbLeave, protocol.VerbUsers:
		return protocol.ReasonInvalidRoom
	}
	return protocol.ReasonMalformed
}
