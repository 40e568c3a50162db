package feeder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fishfeeder/internal/command"
	"github.com/nerrad567/fishfeeder/internal/device"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/config"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/mqtt"
	"github.com/nerrad567/fishfeeder/internal/telemetry"
)

// Logger defines the logging interface used by the Service and handed to
// its components.
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

// Options configures a Service.
type Options struct {
	Device config.DeviceConfig
	MQTT   config.MQTTConfig

	// Logger is optional.
	Logger Logger

	// Recorder persists dispatch outcomes. Nil disables the dispatch log.
	Recorder command.Recorder

	// Diagnostics counts connection, drop and dispatch events. Nil disables them.
	Diagnostics Diagnostics

	// NewClient and IDSource override the MQTT transport. Tests only.
	NewClient mqtt.ClientFactory
	IDSource  mqtt.IDSource

	// OptimisticWindow overrides device.OptimisticFeedWindow. Tests only.
	OptimisticWindow time.Duration
}

// Service is the fish feeder client: one device State fed by one MQTT
// session, plus the manual feed command.
//
// The State outlives sessions. Start opens a session; Stop closes it and
// resets the State to defaults; Start may then be called again. Close ends
// the Service for good.
type Service struct {
	opts   Options
	logger Logger
	diag   Diagnostics

	store      *device.Store
	registry   *telemetry.Registry
	dispatcher *command.Dispatcher

	storeCancel context.CancelFunc

	mu      sync.Mutex
	session *mqtt.Session
	closed  bool
}

// New validates the topics and starts the State loop. No connection is made
// until Start.
func New(opts Options) (*Service, error) {
	topics := device.Topics{
		Level:    opts.MQTT.Topics.Level,
		LastFeed: opts.MQTT.Topics.LastFeed,
		Status:   opts.MQTT.Topics.Status,
	}
	if err := validateTopics(topics, opts.MQTT.Topics.Manual); err != nil {
		return nil, err
	}

	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = noopDiagnostics{}
	}

	s := &Service{
		opts:   opts,
		logger: opts.Logger,
		diag:   opts.Diagnostics,
	}

	s.store = device.NewStore(device.StoreOptions{
		Topics:           topics,
		OptimisticWindow: opts.OptimisticWindow,
		Logger:           opts.Logger,
	})

	s.registry = telemetry.NewRegistry(topics, s.store)
	s.registry.SetLogger(opts.Logger)
	s.registry.SetDiagnostics(opts.Diagnostics)

	s.dispatcher = command.NewDispatcher(opts.MQTT.Topics.Manual, opts.Device.ID, s.store, sessionPublisher{s})
	s.dispatcher.SetLogger(opts.Logger)
	s.dispatcher.SetDiagnostics(opts.Diagnostics)
	if opts.Recorder != nil {
		s.dispatcher.SetRecorder(opts.Recorder)
	}

	var storeCtx context.Context
	storeCtx, s.storeCancel = context.WithCancel(context.Background())
	go s.store.Run(storeCtx)

	return s, nil
}

// validateTopics rejects empty, wildcard or duplicate topics.
func validateTopics(t device.Topics, manual string) error {
	seen := make(map[string]bool, 4)
	for _, topic := range append(t.All(), manual) {
		if topic == "" {
			return fmt.Errorf("%w: empty topic", ErrInvalidTopics)
		}
		for _, r := range topic {
			if r == '+' || r == '#' {
				return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopics, topic)
			}
		}
		if seen[topic] {
			return fmt.Errorf("%w: %q used twice", ErrInvalidTopics, topic)
		}
		seen[topic] = true
	}
	return nil
}

// Start opens a session and begins connecting in the background. Progress
// shows up in Snapshot().Connection. Cancelling ctx stops the session the
// same way Stop does, except that the State is kept.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.session != nil {
		select {
		case <-s.session.Done():
		default:
			return ErrAlreadyStarted
		}
	}

	sess, err := mqtt.Start(ctx, s.opts.MQTT, mqtt.SessionDeps{
		IDSource:      s.opts.IDSource,
		NewClient:     s.opts.NewClient,
		OnStateChange: s.onSessionState,
		OnConnected:   s.onConnected,
		Logger:        s.logger,
	})
	if err != nil {
		return fmt.Errorf("starting mqtt session: %w", err)
	}
	s.session = sess

	go s.watchSession(sess)

	s.logger.Info("feeder session started",
		"device_id", s.opts.Device.ID,
		"topics", s.registry.Topics(),
	)
	return nil
}

// Stop disconnects the session, whatever state it is in, and resets the
// State to defaults. It is a no-op when no session is running.
func (s *Service) Stop() error {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if sess == nil {
		return nil
	}

	if err := sess.Stop(); err != nil {
		s.logger.Warn("stopping mqtt session", "error", err)
	}
	if err := s.store.Reset(); err != nil && !errors.Is(err, device.ErrStoreClosed) {
		return fmt.Errorf("resetting device state: %w", err)
	}

	s.logger.Info("feeder session stopped")
	return nil
}

// Close stops any session and ends the State loop. Watch channels are
// closed. Close is idempotent.
func (s *Service) Close() error {
	err := s.Stop()

	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()

	if !already {
		s.storeCancel()
		<-s.store.Done()
	}
	return err
}

// watchSession releases a session that ended without Stop. The State is
// reset when the broker refused the client and kept when the Start context
// was cancelled.
func (s *Service) watchSession(sess *mqtt.Session) {
	<-sess.Done()

	s.mu.Lock()
	owned := s.session == sess
	if owned {
		s.session = nil
	}
	s.mu.Unlock()

	if !owned {
		return
	}

	ended := sess.Err()
	if errors.Is(ended, context.Canceled) || errors.Is(ended, context.DeadlineExceeded) {
		s.logger.Info("mqtt session ended with its context, device state kept", "reason", ended)
		return
	}

	s.logger.Warn("mqtt session ended, device state reset", "reason", ended)
	if err := s.store.Reset(); err != nil && !errors.Is(err, device.ErrStoreClosed) {
		s.logger.Error("resetting device state", "error", err)
	}
}

// onSessionState mirrors session transitions into the State.
func (s *Service) onSessionState(st mqtt.State) {
	c := connectionState(st)
	if err := s.store.SetConnection(c); err != nil && !errors.Is(err, device.ErrStoreClosed) {
		s.logger.Error("recording connection state", "state", c, "error", err)
	}
	s.diag.ConnectionChanged(string(c))
}

// onConnected installs the telemetry subscriptions on every new link.
func (s *Service) onConnected(sess *mqtt.Session) error {
	return s.registry.OnConnected(sess)
}

// connectionState maps the session lifecycle onto the device State.
func connectionState(st mqtt.State) device.ConnectionState {
	switch st {
	case mqtt.StateConnecting:
		return device.ConnectionConnecting
	case mqtt.StateConnected:
		return device.ConnectionConnected
	case mqtt.StateReconnecting:
		return device.ConnectionReconnecting
	default:
		return device.ConnectionDisconnected
	}
}

// Snapshot returns a copy of the current device State.
func (s *Service) Snapshot() device.State {
	return s.store.Snapshot()
}

// Watch follows State changes; see device.Store.Watch.
func (s *Service) Watch() (<-chan device.State, func()) {
	return s.store.Watch()
}

// TelemetryStats returns the subscription and message counters.
func (s *Service) TelemetryStats() telemetry.Stats {
	return s.registry.Stats()
}

// DispatchManualFeed sends the manual feed command; see
// command.Dispatcher.DispatchManualFeed.
func (s *Service) DispatchManualFeed(ctx context.Context) (command.Ack, error) {
	ack, err := s.dispatcher.DispatchManualFeed(ctx)
	if errors.Is(err, device.ErrStoreClosed) {
		return command.Ack{}, ErrClosed
	}
	return ack, err
}

// sessionPublisher publishes through whichever session is current.
type sessionPublisher struct {
	svc *Service
}

func (p sessionPublisher) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	p.svc.mu.Lock()
	sess := p.svc.session
	p.svc.mu.Unlock()

	if sess == nil {
		return mqtt.ErrNotConnected
	}
	return sess.Publish(ctx, topic, payload, qos, retained)
}
