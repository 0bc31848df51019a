package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("listener closed")

type wsFrame struct {
	line string
	err  error
}

// wsConn reads through a pump goroutine so that a read deadline only abandons
// the wait; gorilla connections are unusable after their own read timeout.
type wsConn struct {
	conn   *websocket.Conn
	remote string

	frames    chan wsFrame
	pumpOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	rmu      sync.Mutex
	deadline time.Time
	readErr  error

	wmu          sync.Mutex
	writeTimeout time.Duration
}

// NewWSConn wraps an upgraded websocket connection. Each text message is one
// frame.
func NewWSConn(conn *websocket.Conn, remote string, maxLine int) LineConn {
	if maxLine > 0 {
		conn.SetReadLimit(int64(maxLine))
	}
	if remote == "" {
		remote = conn.RemoteAddr().String()
	}
	return &wsConn{
		conn:         conn,
		remote:       remote,
		frames:       make(chan wsFrame),
		closed:       make(chan struct{}),
		writeTimeout: DefaultWriteTimeout,
	}
}

func (c *wsConn) pump() {
	for {
		mt, data, err := c.conn.ReadMessage()
		var f wsFrame
		switch {
		case errors.Is(err, websocket.ErrReadLimit):
			f.err = ErrLineTooLong
		case err != nil:
			f.err = err
		case mt != websocket.TextMessage:
			continue
		default:
			f.line = strings.TrimRight(string(data), "\r\n")
		}

		select {
		case c.frames <- f:
		case <-c.closed:
			return
		}
		if f.err != nil {
			return
		}
	}
}

func (c *wsConn) ReadLine() (string, error) {
	c.pumpOnce.Do(func() { go c.pump() })

	c.rmu.Lock()
	deadline, readErr := c.deadline, c.readErr
	c.rmu.Unlock()
	if readErr != nil {
		return "", readErr
	}

	var expired <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		expired = t.C
	}

	select {
	case f := <-c.frames:
		if f.err != nil {
			c.rmu.Lock()
			c.readErr = f.err
			c.rmu.Unlock()
		}
		return f.line, f.err
	case <-expired:
		return "", os.ErrDeadlineExceeded
	case <-c.closed:
		return "", net.ErrClosed
	}
}

func (c *wsConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	c.rmu.Lock()
	c.deadline = t
	c.rmu.Unlock()
	return nil
}

func (c *wsConn) RemoteAddr() string {
	return c.remote
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// WSListener serves websocket upgrades over HTTP and hands the resulting
// connections out through Accept.
type WSListener struct {
	ln       net.Listener
	srv      *http.Server
	upgrader websocket.Upgrader
	maxLine  int

	origins  map[string]struct{}
	allowAll bool

	conns     chan LineConn
	done      chan struct{}
	closeOnce sync.Once
}

// ListenWS starts an HTTP server on addr that upgrades requests on path.
// Requests without an Origin header (non-browser clients) are accepted;
// browser origins must be listed in allowedOrigins, or "*" allows any.
func ListenWS(addr, path string, allowedOrigins []string, maxLine int) (*WSListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	l := &WSListener{
		ln:      ln,
		maxLine: maxLine,
		origins: make(map[string]struct{}),
		conns:   make(chan LineConn),
		done:    make(chan struct{}),
	}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			l.allowAll = true
			continue
		}
		if n, ok := normalizeOrigin(o); ok {
			l.origins[n] = struct{}{}
		}
	}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     l.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		_ = l.srv.Serve(ln)
	}()
	return l, nil
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	lc := NewWSConn(conn, r.RemoteAddr, l.maxLine)
	select {
	case l.conns <- lc:
	case <-l.done:
		_ = lc.Close()
	}
}

func (l *WSListener) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || l.allowAll {
		return true
	}
	n, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, allowed := l.origins[n]
	return allowed
}

func (l *WSListener) Accept() (LineConn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

func (l *WSListener) Addr() string {
	return l.ln.Addr().String()
}

func (l *WSListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = l.srv.Shutdown(ctx)
	})
	return err
}

// DialWS connects to a ws:// or wss:// URL.
func DialWS(ctx context.Context, rawURL string, maxLine int) (LineConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return NewWSConn(conn, "", maxLine), nil
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
