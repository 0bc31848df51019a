// Package transport carries protocol frames over byte streams. Both the
// plain/TLS TCP transport and the WebSocket transport expose the same
// line-oriented LineConn so the session layer does not care which one a
// client used.
package transport

import (
	"errors"
	"net"
	"os"
	"time"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 10 * time.Second

// ErrLineTooLong is returned by ReadLine when a frame exceeds the limit.
var ErrLineTooLong = errors.New("line too long")

// LineConn is a bidirectional stream of text frames.
type LineConn interface {
	// ReadLine returns the next frame without its terminator.
	ReadLine() (string, error)
	// WriteLine sends one frame. It is safe for concurrent use.
	WriteLine(line string) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// Listener yields incoming LineConns.
type Listener interface {
	Accept() (LineConn, error)
	Addr() string
	Close() error
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsClosed reports whether err means the connection or listener was closed.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrListenerClosed)
}

// HostOf strips the port from a remote address. Addresses without a port
// are returned unchanged.
func HostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
