package telemetry

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/fishfeeder/internal/device"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/mqtt"
)

// SubscribeQoS is the delivery mode for all telemetry topics: at most once.
const SubscribeQoS byte = 0

// Subscriber is the part of the session the registry needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Sink receives every telemetry message. *device.Store satisfies it.
type Sink interface {
	Apply(topic string, payload []byte) error
}

// Diagnostics receives dropped-payload notifications.
type Diagnostics interface {
	PayloadDropped(topic, reason string)
}

// Logger defines the logging interface used by the Registry.
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

type noopDiagnostics struct{}

func (noopDiagnostics) PayloadDropped(string, string) {}

// Stats are running counters since the registry was created.
type Stats struct {
	Subscriptions uint64 `json:"subscriptions"`
	Received      uint64 `json:"received"`
	Dropped       uint64 `json:"dropped"`
}

// Registry owns the fixed telemetry subscription set.
//
// SetLogger and SetDiagnostics must be called before the registry is
// installed on a session.
type Registry struct {
	topics device.Topics
	sink   Sink
	logger Logger
	diag   Diagnostics

	subscriptions atomic.Uint64
	received      atomic.Uint64
	dropped       atomic.Uint64
}

// NewRegistry creates a registry for topics that applies messages to sink.
func NewRegistry(topics device.Topics, sink Sink) *Registry {
	return &Registry{
		topics: topics,
		sink:   sink,
		logger: noopLogger{},
		diag:   noopDiagnostics{},
	}
}

// SetLogger sets the logger for subscription and drop events.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetDiagnostics sets the side channel for dropped payloads.
func (r *Registry) SetDiagnostics(diag Diagnostics) {
	if diag != nil {
		r.diag = diag
	}
}

// Topics returns the subscribed topic names.
func (r *Registry) Topics() []string {
	return r.topics.All()
}

// OnConnected subscribes every telemetry topic on sub.
//
// It is called on every connection, including reconnections: the session
// is clean, so nothing survives from the previous link. A failing topic does
// not stop the others; all failures are returned joined.
func (r *Registry) OnConnected(sub Subscriber) error {
	var errs []error

	for _, topic := range r.topics.All() {
		if err := sub.Subscribe(topic, SubscribeQoS, r.handle); err != nil {
			r.logger.Warn("telemetry subscribe failed", "topic", topic, "error", err)
			errs = append(errs, fmt.Errorf("subscribing %s: %w", topic, err))
			continue
		}
		r.subscriptions.Add(1)
		r.logger.Debug("telemetry subscribed", "topic", topic, "qos", SubscribeQoS)
	}

	return errors.Join(errs...)
}

// handle applies one message. Rejections are reported, never returned.
func (r *Registry) handle(topic string, payload []byte) error {
	r.received.Add(1)

	err := r.sink.Apply(topic, payload)
	if err == nil {
		return nil
	}
	if errors.Is(err, device.ErrStoreClosed) {
		r.logger.Debug("telemetry after shutdown ignored", "topic", topic)
		return nil
	}

	r.dropped.Add(1)
	reason := device.DropReason(err)
	r.logger.Warn("telemetry payload dropped",
		"topic", topic,
		"reason", reason,
		"error", err,
	)
	r.diag.PayloadDropped(topic, reason)

	return nil
}

// Stats returns the current counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Subscriptions: r.subscriptions.Load(),
		Received:      r.received.Load(),
		Dropped:       r.dropped.Load(),
	}
}
