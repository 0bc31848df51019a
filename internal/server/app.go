// Package server wires the chat server together: storage, the shared
// registries, the TCP and WebSocket listeners, the periodic sweeps and the
// optional gRPC health endpoint, and runs them until shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/logging"
	"github.com/dmitrijs2005/gophchat/internal/server/acceptor"
	"github.com/dmitrijs2005/gophchat/internal/server/assistant"
	"github.com/dmitrijs2005/gophchat/internal/server/config"
	"github.com/dmitrijs2005/gophchat/internal/server/delivery"
	"github.com/dmitrijs2005/gophchat/internal/server/heartbeat"
	"github.com/dmitrijs2005/gophchat/internal/server/ratelimit"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophchat/internal/server/rooms"
	"github.com/dmitrijs2005/gophchat/internal/server/services"
	"github.com/dmitrijs2005/gophchat/internal/server/session"
	"github.com/dmitrijs2005/gophchat/internal/transport"

	gs "github.com/dmitrijs2005/gophchat/internal/server/grpc"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	credentials *services.CredentialStore
	tokens      *services.SessionRegistry
	limiter     *ratelimit.Limiter
	tracker     *delivery.Tracker
	monitor     *heartbeat.Monitor
	rooms       *rooms.Registry
	handler     *session.Handler

	tcp       *transport.TCPListener
	ws        *transport.WSListener
	closeOnce sync.Once
}

// NewApp opens the database, applies migrations, restores users and tokens
// and builds the shared registries. Listeners are opened by Listen or Run.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	db, dialect, err := dbx.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewSQLRepositoryManager(dialect)
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	app.credentials = services.NewCredentialStore(db, rm, c.PasswordIterations)
	users, err := app.credentials.Load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app.tokens = services.NewSessionRegistry(db, rm, []byte(c.SecretKey), c.SessionTTL)
	tokens, err := app.tokens.Load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info(ctx, "state restored", "users", users, "tokens", tokens)

	completer, err := assistant.New(assistant.Config{
		Backend:  c.AssistantBackend,
		Endpoint: c.AssistantEndpoint,
		Model:    c.AssistantModel,
		APIKey:   c.AssistantAPIKey,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app.limiter = ratelimit.New(c.MaxConnsPerAddr, c.MaxLoginFails, c.FailWindow)
	app.tracker = delivery.NewTracker(logger)
	app.monitor = heartbeat.NewMonitor()
	app.rooms = rooms.NewRegistry(rooms.Options{
		HistoryCapacity:  c.HistoryCapacity,
		AssistantContext: c.AssistantContext,
		AssistantTimeout: c.AssistantTimeout,
		Completer:        completer,
		Tracker:          app.tracker,
		Log:              logger,
	})
	if c.DefaultRooms {
		app.rooms.CreateDefaults()
	}

	app.handler = session.NewHandler(session.Deps{
		Credentials: app.credentials,
		Tokens:      app.tokens,
		Limiter:     app.limiter,
		Rooms:       app.rooms,
		Tracker:     app.tracker,
		Monitor:     app.monitor,
		Log:         logger,
	}, session.Config{OutboundQueue: c.OutboundQueue})

	return app, nil
}

// Listen opens the TCP listener and, when configured, the WebSocket one.
func (app *App) Listen() error {
	if app.tcp != nil {
		return nil
	}

	tlsCfg, err := transport.LoadServerTLS(app.config.TLSCertFile, app.config.TLSKeyFile)
	if err != nil {
		return err
	}

	tcp, err := transport.ListenTCP(app.config.ListenAddr, tlsCfg, app.config.MaxLineBytes)
	if err != nil {
		return err
	}

	if app.config.WebSocketAddr != "" {
		ws, err := transport.ListenWS(app.config.WebSocketAddr, app.config.WebSocketPath, app.config.AllowedOrigins, app.config.MaxLineBytes)
		if err != nil {
			_ = tcp.Close()
			return err
		}
		app.ws = ws
	}
	app.tcp = tcp
	return nil
}

// Addr returns the bound TCP address, or "" before Listen.
func (app *App) Addr() string {
	if app.tcp == nil {
		return ""
	}
	return app.tcp.Addr()
}

// WSAddr returns the bound WebSocket address, or "" when disabled.
func (app *App) WSAddr() string {
	if app.ws == nil {
		return ""
	}
	return app.ws.Addr()
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// shuts down: listeners close, sessions end, sweeps stop, pending assistant
// replies are abandoned and the database is closed.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	defer app.close()

	if err := app.Listen(); err != nil {
		return err
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "tcp", app.Addr(), "ws", app.WSAddr())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
		cancelFunc()
	}

	listeners := []transport.Listener{app.tcp}
	if app.ws != nil {
		listeners = append(listeners, app.ws)
	}
	for _, ln := range listeners {
		a := acceptor.New(ln, app.limiter, app.handler, app.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Run(ctx); err != nil {
				fail(err)
			}
		}()
	}

	if app.config.HealthAddrGRPC != "" {
		hs := gs.NewHealthServer(app.config.HealthAddrGRPC, app.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hs.Run(ctx); err != nil {
				fail(err)
			}
		}()
	}

	app.every(ctx, &wg, app.config.AckSweepInterval, app.sweepDeliveries)
	app.every(ctx, &wg, app.config.HeartbeatSweepInterval, app.sweepHeartbeats)
	app.every(ctx, &wg, app.config.SessionSweepInterval, app.sweepSessions)

	<-ctx.Done()
	app.logger.Info(context.Background(), "Shutting down...")
	wg.Wait()

	return errors.Join(errs...)
}

// every runs fn on a ticker until ctx is done.
func (app *App) every(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context, time.Time)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				fn(ctx, now)
			}
		}
	}()
}

func (app *App) sweepDeliveries(ctx context.Context, now time.Time) {
	app.tracker.Sweep(ctx, now, app.config.AckTimeout)
}

func (app *App) sweepHeartbeats(ctx context.Context, now time.Time) {
	if evicted := app.monitor.Sweep(now, app.config.StaleAfter); len(evicted) > 0 {
		app.logger.Info(ctx, "stale sessions evicted", "count", len(evicted))
	}
}

func (app *App) sweepSessions(ctx context.Context, now time.Time) {
	n, err := app.tokens.Sweep(ctx, now)
	if err != nil {
		app.logger.Error(ctx, "session sweep failed", "error", err)
		return
	}
	if n > 0 {
		app.logger.Info(ctx, "expired sessions removed", "count", n)
	}
}

func (app *App) close() {
	app.closeOnce.Do(func() {
		if app.tcp != nil {
			_ = app.tcp.Close()
		}
		if app.ws != nil {
			_ = app.ws.Close()
		}
		app.rooms.Close()
		if err := app.db.Close(); err != nil {
			app.logger.Error(context.Background(), "db close error", "error", err)
		}
	})
}
