// Package acceptor runs the accept loop of a listener and hands each admitted
// connection to its own goroutine.
package acceptor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophchat/internal/transport"
)

// ConnHandler serves one admitted connection and releases its limiter slot
// when done.
type ConnHandler interface {
	Serve(ctx context.Context, conn transport.LineConn)
}

const maxAcceptDelay = time.Second

type Acceptor struct {
	ln      transport.Listener
	limiter *ratelimit.Limiter
	handler ConnHandler
	log     logging.Logger
	wg      sync.WaitGroup
}

func New(ln transport.Listener, limiter *ratelimit.Limiter, h ConnHandler, log logging.Logger) *Acceptor {
	return &Acceptor{
		ln:      ln,
		limiter: limiter,
		handler: h,
		log:     log.With("module", "acceptor", "address", ln.Addr()),
	}
}

// Run accepts connections until ctx is cancelled, then closes the listener
// and waits for the running sessions.
func (a *Acceptor) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = a.ln.Close()
	})
	defer stop()
	defer a.wg.Wait()

	a.log.Info(ctx, "accepting connections")

	var delay time.Duration
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || transport.IsClosed(err) {
				a.log.Info(ctx, "listener stopped")
				return nil
			}

			delay = nextDelay(delay)
			a.log.Warn(ctx, "accept failed", "error", err, "retry_in", delay)

			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		delay = 0

		addr := transport.HostOf(conn.RemoteAddr())
		if !a.limiter.AdmitConnection(addr) {
			a.log.Warn(ctx, "connection rejected", "remote", addr, "error", common.ErrResourceExhausted)
			_ = conn.Close()
			continue
		}

		a.wg.Add(1)
		go a.serve(ctx, conn)
	}
}

func (a *Acceptor) serve(ctx context.Context, conn transport.LineConn) {
	defer a.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error(ctx, "connection handler panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			_ = conn.Close()
		}
	}()
	a.handler.Serve(ctx, conn)
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > maxAcceptDelay {
		return maxAcceptDelay
	}
	return d
}
