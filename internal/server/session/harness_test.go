package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/protocol"
	"github.com/dmitrijs2005/gophchat/internal/server/delivery"
	"github.com/dmitrijs2005/gophchat/internal/server/heartbeat"
	"github.com/dmitrijs2005/gophchat/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophchat/internal/server/rooms"
	"github.com/dmitrijs2005/gophchat/internal/server/services"
	"github.com/dmitrijs2005/gophchat/internal/transport"
	"github.com/stretchr/testify/require"
)

const ioTimeout = 2 * time.Second

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	clock   *testClock
	ctx     context.Context
	cancel  context.CancelFunc
	handler *Handler
	tokens  *services.SessionRegistry
	limiter *ratelimit.Limiter
	rooms   *rooms.Registry
	tracker *delivery.Tracker
	monitor *heartbeat.Monitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, dialect, err := dbx.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	m := repomanager.NewSQLRepositoryManager(dialect)
	require.NoError(t, m.RunMigrations(ctx, db))

	log := logging.NewNop()
	hs := &harness{
		clock:   &testClock{t: time.Now()},
		ctx:     ctx,
		cancel:  cancel,
		tokens:  services.NewSessionRegistry(db, m, []byte("test"), time.Hour),
		limiter: ratelimit.New(100, 3, 10*time.Minute),
		tracker: delivery.NewTracker(log),
		monitor: heartbeat.NewMonitor(),
	}
	hs.rooms = rooms.NewRegistry(rooms.Options{Tracker: hs.tracker, Log: log})
	hs.handler = NewHandler(Deps{
		Credentials: services.NewCredentialStore(db, m, 1000),
		Tokens:      hs.tokens,
		Limiter:     hs.limiter,
		Rooms:       hs.rooms,
		Tracker:     hs.tracker,
		Monitor:     hs.monitor,
		Log:         log,
	}, Config{ReadTimeout: 50 * time.Millisecond, AuthTimeout: ioTimeout, OutboundQueue: 64})
	hs.handler.now = hs.clock.Now
	return hs
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	done chan struct{}
}

// dial starts a session over an in-memory pipe. net.Pipe reports "pipe" as
// the remote address, so all clients share one rate-limit bucket.
func (hs *harness) dial(t *testing.T) *client {
	t.Helper()
	srv, cli := net.Pipe()
	require.True(t, hs.limiter.AdmitConnection("pipe"))

	c := &client{t: t, conn: cli, r: bufio.NewReader(cli), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		hs.handler.Serve(hs.ctx, transport.NewTCPConn(srv, protocol.MaxLineBytes))
	}()
	t.Cleanup(func() {
		_ = cli.Close()
		<-c.done
	})
	return c
}

func (c *client) send(line string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(ioTimeout)))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *client) read() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(ioTimeout)))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\r\n")
}

// next skips SYSTEM announcements.
func (c *client) next() string {
	c.t.Helper()
	for {
		line := c.read()
		if !strings.HasPrefix(line, string(protocol.VerbSystem)+":") {
			return line
		}
	}
}

// expect matches the next frame. SYSTEM lines are skipped unless want is
// one.
func (c *client) expect(want string) {
	c.t.Helper()
	if strings.HasPrefix(want, string(protocol.VerbSystem)+":") {
		require.Equal(c.t, want, c.read())
		return
	}
	require.Equal(c.t, want, c.next())
}

func (c *client) expectPrefix(prefix string) string {
	c.t.Helper()
	line := c.next()
	require.True(c.t, strings.HasPrefix(line, prefix), "got %q, want prefix %q", line, prefix)
	return strings.TrimPrefix(line, prefix)
}

// expectClosed drains frames until the server closes the connection.
func (c *client) expectClosed() {
	c.t.Helper()
	// net.Pipe refuses deadlines once either end is closed
	if err := c.conn.SetReadDeadline(time.Now().Add(ioTimeout)); err != nil {
		require.ErrorIs(c.t, err, io.ErrClosedPipe)
	}
	for {
		_, err := c.r.ReadString('\n')
		if err != nil {
			require.True(c.t, errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe), "unexpected error %v", err)
			return
		}
	}
}

// sync makes sure every earlier frame was processed.
func (c *client) sync() {
	c.t.Helper()
	c.send("HEARTBEAT")
	c.expect("HEARTBEAT_ACK")
}

// login authenticates and returns the token.
func (c *client) login(user, pass string) string {
	c.t.Helper()
	c.send("LOGIN:" + user + ":" + pass)
	line := c.next()
	verb, token, _ := strings.Cut(line, ":")
	require.Contains(c.t, []string{"AUTH_NEW", "AUTH_OK"}, verb, line)
	c.expectPrefix("ROOMS:")
	return token
}
