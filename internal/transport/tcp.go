package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

type tcpConn struct {
	conn    net.Conn
	r       *bufio.Reader
	maxLine int
	// bytes of a frame interrupted by a read deadline
	partial []byte

	wmu          sync.Mutex
	writeTimeout time.Duration
}

// NewTCPConn wraps an established net.Conn. maxLine <= 0 disables the limit.
func NewTCPConn(conn net.Conn, maxLine int) LineConn {
	return &tcpConn{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, 4096),
		maxLine:      maxLine,
		writeTimeout: DefaultWriteTimeout,
	}
}

func (c *tcpConn) ReadLine() (string, error) {
	buf := c.partial
	c.partial = nil
	for {
		chunk, err := c.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if c.maxLine > 0 && len(buf) > c.maxLine+2 {
			return "", ErrLineTooLong
		}
		if err == nil {
			return strings.TrimRight(string(buf), "\r\n"), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if IsTimeout(err) {
			c.partial = buf
		}
		return "", err
	}
}

func (c *tcpConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// TCPListener accepts plain or TLS TCP connections.
type TCPListener struct {
	ln      net.Listener
	maxLine int
}

// ListenTCP listens on addr. A non-nil tlsCfg turns on TLS.
func ListenTCP(addr string, tlsCfg *tls.Config, maxLine int) (*TCPListener, error) {
	var (
		ln  net.Listener
		err error
	)
	if tlsCfg != nil {
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &TCPListener{ln: ln, maxLine: maxLine}, nil
}

func (l *TCPListener) Accept() (LineConn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewTCPConn(conn, l.maxLine), nil
}

func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}

func (l *TCPListener) Close() error {
	return l.ln.Close()
}

// DialTCP connects to addr, with TLS when tlsCfg is not nil.
func DialTCP(ctx context.Context, addr string, tlsCfg *tls.Config, maxLine int) (LineConn, error) {
	var (
		conn net.Conn
		err  error
	)
	if tlsCfg != nil {
		d := &tls.Dialer{Config: tlsCfg}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewTCPConn(conn, maxLine), nil
}

// LoadServerTLS builds a server TLS config from PEM files. Both paths empty
// means TLS is off and (nil, nil) is returned.
func LoadServerTLS(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	if certFile == "" || keyFile == "" {
		return nil, errors.New("both TLS cert and key files are required")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadClientTLS builds a client TLS config trusting the CA in caFile. An
// empty caFile means TLS is off and (nil, nil) is returned.
func LoadClientTLS(caFile, serverName string) (*tls.Config, error) {
	if caFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("no certificates found in CA file")
	}
	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, nil
}
