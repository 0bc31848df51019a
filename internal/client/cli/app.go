package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/client/config"
	"github.com/dmitrijs2005/gophchat/internal/client/reconnect"
	"github.com/dmitrijs2005/gophchat/internal/client/storage"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/protocol"
	"github.com/dmitrijs2005/gophchat/internal/transport"
)

const dialTimeout = 5 * time.Second

type App struct {
	config *config.Config
	store  *storage.Store
	rc     *reconnect.Reconnector
	reader *bufio.Reader
	out    io.Writer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Level: c.LogLevel, Writer: os.Stderr})
	if err != nil {
		return nil, err
	}

	dial, err := newDialer(c)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, c.StatePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing state database: %w", err)
	}

	rc := reconnect.New(reconnect.Config{
		Dial:              dial,
		HeartbeatInterval: c.HeartbeatInterval,
		LivenessTimeout:   c.LivenessTimeout,
		BaseDelay:         c.ReconnectBaseDelay,
		MaxDelay:          c.ReconnectMaxDelay,
		Growth:            c.ReconnectGrowth,
		MaxAttempts:       c.MaxReconnectAttempts,
		Log:               logger,
	})

	return &App{
		config: c,
		store:  store,
		rc:     rc,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}, nil
}

func newDialer(c *config.Config) (reconnect.Dialer, error) {
	if c.WebSocketURL != "" {
		url := c.WebSocketURL
		return func(ctx context.Context) (transport.LineConn, error) {
			ctx, cancel := context.WithTimeout(ctx, dialTimeout)
			defer cancel()
			return transport.DialWS(ctx, url, protocol.MaxLineBytes)
		}, nil
	}

	tlsCfg, err := transport.LoadClientTLS(c.TLSCAFile, transport.HostOf(c.ServerAddr))
	if err != nil {
		return nil, err
	}
	addr := c.ServerAddr
	return func(ctx context.Context) (transport.LineConn, error) {
		ctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		return transport.DialTCP(ctx, addr, tlsCfg, protocol.MaxLineBytes)
	}, nil
}

// Run authenticates and then chats until the user quits or logs out, or the
// session is lost.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	fmt.Fprintln(a.out, "gophchat (type /help for commands)")
	if err := a.authenticate(ctx, a.rc); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- a.rc.Run(ctx) }()
	go a.render(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.reader)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case err := <-result:
			return a.finish(ctx, err)
		case line, ok := <-lines:
			if !ok || dispatch(a.rc, line, a.out) == actionQuit {
				a.rc.Stop()
				return a.finish(ctx, <-result)
			}
		}
	}
}

func (a *App) render(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-a.rc.Updates():
			if s := format(u, a.rc.ActiveRoom()); s != "" {
				fmt.Fprintln(a.out, s)
			}
		}
	}
}

// finish maps the end of a chat run to what is kept for the next start.
func (a *App) finish(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return a.store.ForgetToken(ctx)
	case errors.Is(err, reconnect.ErrStopped), errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, reconnect.ErrSessionLost):
		fmt.Fprintln(a.out, "Session lost, please log in again.")
		if ferr := a.store.ForgetToken(ctx); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	default:
		return err
	}
}
