package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fishfeeder/internal/infrastructure/config"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's router goroutine, one message at a time.
// A returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// ClientFactory builds the paho client for one connection attempt.
type ClientFactory func(opts *pahomqtt.ClientOptions) pahomqtt.Client

// SessionDeps are the collaborators of a Session. All fields are optional.
type SessionDeps struct {
	// IDSource supplies a client ID per attempt.
	// Defaults to RandomIDSource with the configured prefix.
	IDSource IDSource

	// NewClient builds the transport. Defaults to pahomqtt.NewClient.
	NewClient ClientFactory

	// OnStateChange is called on the session goroutine for every transition.
	OnStateChange func(State)

	// OnConnected is called on the session goroutine each time the session
	// enters StateConnected, after OnStateChange.
	OnConnected func(*Session) error

	Logger Logger
}

// Session owns one logical broker connection and keeps it alive.
//
// A goroutine started by Start connects, waits for the link to drop, then
// retries every reconnect interval until Stop is called or the broker
// refuses the client outright. Each attempt uses a new paho client with a
// fresh client ID.
//
// Thread Safety:
//   - Publish, Subscribe, State and IsConnected are safe for concurrent use.
//   - Hooks are invoked from the session goroutine only.
type Session struct {
	cfg    config.MQTTConfig
	broker *url.URL
	deps   SessionDeps
	logger Logger

	mu     sync.RWMutex
	client pahomqtt.Client
	state  State
	err    error

	ctx      context.Context
	cancel   context.CancelCauseFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Start validates cfg and launches the session goroutine. It returns without
// waiting for the first connection; progress is reported through
// SessionDeps.OnStateChange.
//
// Cancelling ctx has the same effect as Stop, except that Stop also waits
// and Err reports the context's error instead of ErrStopped.
func Start(ctx context.Context, cfg config.MQTTConfig, deps SessionDeps) (*Session, error) {
	broker, err := parseBroker(cfg.Broker.URL)
	if err != nil {
		return nil, err
	}
	if cfg.ReconnectInterval() <= 0 {
		return nil, fmt.Errorf("%w: reconnect interval must be positive", ErrConnectionFailed)
	}

	if deps.IDSource == nil {
		deps.IDSource = RandomIDSource{Prefix: cfg.Broker.ClientIDPrefix}
	}
	if deps.NewClient == nil {
		deps.NewClient = pahomqtt.NewClient
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}

	s := &Session{
		cfg:    cfg,
		broker: broker,
		deps:   deps,
		logger: deps.Logger,
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}

	s.ctx, s.cancel = context.WithCancelCause(ctx)

	go s.run(s.ctx)

	return s, nil
}

// Stop disconnects the session from whatever state it is in and waits for
// the session goroutine to exit. It is safe to call more than once.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() { s.cancel(ErrStopped) })
	<-s.done
	return nil
}

// Done is closed once the session goroutine has exited, either through Stop,
// cancellation of the Start context, or an unrecoverable refusal.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns nil while the session runs. Once Done is closed it reports why
// the session ended: ErrStopped after Stop, the context's error after the
// Start context was cancelled, or the connect error the broker answered
// with when it refused the client.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether a live client is available.
func (s *Session) IsConnected() bool {
	_, err := s.liveClient()
	return err == nil
}

// liveClient returns the connected paho client. It fails with ErrStopped
// once the session has ended and with ErrNotConnected between links.
func (s *Session) liveClient() (pahomqtt.Client, error) {
	select {
	case <-s.done:
		return nil, ErrStopped
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected || s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// end records why the session goroutine is exiting.
func (s *Session) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// run is the session goroutine.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	interval := s.cfg.ReconnectInterval()
	s.setState(StateConnecting)

	for {
		lost, err := s.connect(ctx)
		if err == nil {
			s.setState(StateConnected)
			s.notifyConnected()

			select {
			case <-ctx.Done():
				s.end(context.Cause(ctx))
				return
			case cause := <-lost:
				s.logger.Warn("mqtt connection lost", "error", cause)
				s.dropClient()
			}
		} else {
			if ctx.Err() != nil {
				s.end(context.Cause(ctx))
				return
			}
			if isUnrecoverable(err) {
				s.logger.Error("mqtt connection refused, giving up", "error", err)
				s.end(err)
				return
			}
			s.logger.Warn("mqtt connection attempt failed",
				"error", err,
				"retry_in", interval,
			)
		}

		s.setState(StateReconnecting)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.end(context.Cause(ctx))
			return
		case <-timer.C:
		}
	}
}

// connect makes one connection attempt. On success the returned channel
// receives the cause when the link drops.
func (s *Session) connect(ctx context.Context) (<-chan error, error) {
	clientID := s.deps.IDSource.NewClientID()
	opts := buildClientOptions(s.cfg, s.broker, clientID)

	lost := make(chan error, 1)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	s.logger.Debug("mqtt connecting", "broker", s.broker.Redacted(), "client_id", clientID)

	client := s.deps.NewClient(opts)
	token := client.Connect()

	timer := time.NewTimer(s.cfg.ConnectTimeout() + connectGrace)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-timer.C:
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w after %v", ErrConnectionFailed, ErrTimeout, s.cfg.ConnectTimeout())
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.logger.Info("mqtt connected", "broker", s.broker.Redacted(), "client_id", clientID)
	return lost, nil
}

// notifyConnected runs the OnConnected hook.
func (s *Session) notifyConnected() {
	if s.deps.OnConnected == nil {
		return
	}
	if err := s.deps.OnConnected(s); err != nil {
		s.logger.Warn("mqtt on-connected hook failed", "error", err)
	}
}

// dropClient forgets the current client after its link dropped.
func (s *Session) dropClient() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(0)
	}
}

// teardown disconnects any live client and reports StateDisconnected.
func (s *Session) teardown() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		client.Disconnect(defaultDisconnectQuiesce)
	}

	s.setState(StateDisconnected)
	s.logger.Info("mqtt session stopped")
}

// setState records next and calls OnStateChange if it differs.
func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev == next {
		return
	}

	s.logger.Debug("mqtt session state", "from", prev.String(), "to", next.String())

	if s.deps.OnStateChange != nil {
		s.deps.OnStateChange(next)
	}
}

// wrapHandler wraps a MessageHandler with panic recovery and logging.
func (s *Session) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			s.logger.Warn("MQTT handler returned error",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}
