package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/fishfeeder/internal/audit"
	"github.com/nerrad567/fishfeeder/internal/command"
	"github.com/nerrad567/fishfeeder/internal/device"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/config"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/logging"
	"github.com/nerrad567/fishfeeder/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Feeder is the part of feeder.Service the API exposes.
type Feeder interface {
	Snapshot() device.State
	Watch() (<-chan device.State, func())
	DispatchManualFeed(ctx context.Context) (command.Ack, error)
	TelemetryStats() telemetry.Stats
}

// DispatchLog lists recorded dispatches. *audit.SQLiteRepository satisfies it.
type DispatchLog interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// DBStats reports connection pool statistics. *database.DB satisfies it.
type DBStats interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Feeder     Feeder
	Dispatches DispatchLog // optional: nil when the database is disabled
	DB         DBStats     // optional
	Version    string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	feeder     Feeder
	dispatches DispatchLog
	db         DBStats
	version    string
	startTime  time.Time

	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc // cancels background goroutines on Close()
	relayed  chan struct{}      // closed when the state relay exits
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Feeder == nil {
		return nil, fmt.Errorf("feeder is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		feeder:     deps.Feeder,
		dispatches: deps.Dispatches,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.Logger, ChannelDeviceState),
	}
	return s, nil
}

// Start binds the listener and serves in the background.
//
// It starts the WebSocket hub and relays every device State change to
// clients subscribed to ChannelDeviceState. Binding errors (port in use)
// are returned; errors while serving are logged.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	// Seed the channel so the first subscriber is greeted even if the
	// relay has not run yet.
	s.hub.Publish(ChannelDeviceState, s.feeder.Snapshot())
	s.relayed = make(chan struct{})
	go s.relayState(srvCtx)

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// relayState broadcasts device State changes to WebSocket clients until
// ctx is cancelled or the feeder closes the watch.
func (s *Server) relayState(ctx context.Context) {
	defer close(s.relayed)

	updates, cancel := s.feeder.Watch()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			s.hub.Publish(ChannelDeviceState, st)
		}
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, state relay)
	if s.cancel != nil {
		s.cancel()
		<-s.relayed
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
