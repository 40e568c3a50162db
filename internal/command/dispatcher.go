package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/fishfeeder/internal/audit"
	"github.com/nerrad567/fishfeeder/internal/device"
)

// Manual feed wire constants.
const (
	ManualFeedCommand      = "ON"
	PublishQoS        byte = 0
	PublishRetained        = false

	defaultSource = "service"
)

// Ack describes a dispatch the transport accepted. There is no device
// acknowledgement at QoS 0.
type Ack struct {
	DispatchID  string    `json:"dispatch_id,omitempty"`
	Topic       string    `json:"topic"`
	Command     string    `json:"command"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Gate raises the optimistic Feeding flag if the session is connected.
// *device.Store satisfies it.
type Gate interface {
	BeginOptimisticFeed() error
}

// Publisher sends one message. *mqtt.Session satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// Recorder persists dispatch attempts. audit.Repository satisfies it.
type Recorder interface {
	Create(ctx context.Context, d *audit.Dispatch) error
}

// Diagnostics receives dispatch outcomes.
type Diagnostics interface {
	DispatchOutcome(outcome string)
}

// Logger defines the logging interface used by the Dispatcher.
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

type sourceKey struct{}

// WithSource tags dispatches made with ctx, e.g. "api".
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return defaultSource
}

// manualFeedPayload is the JSON body of a manual feed command.
type manualFeedPayload struct {
	Command string `json:"command"`
}

// Dispatcher publishes manual feed commands.
type Dispatcher struct {
	topic     string
	deviceID  string
	gate      Gate
	publisher Publisher
	recorder  Recorder
	diag      Diagnostics
	logger    Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher publishing to topic.
func NewDispatcher(topic, deviceID string, gate Gate, publisher Publisher) *Dispatcher {
	return &Dispatcher{
		topic:     topic,
		deviceID:  deviceID,
		gate:      gate,
		publisher: publisher,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// SetRecorder enables the dispatch log.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// SetDiagnostics enables outcome counting.
func (d *Dispatcher) SetDiagnostics(diag Diagnostics) {
	d.diag = diag
}

// DispatchManualFeed asks the feeder to dispense food now.
//
// If the session is not connected it returns ErrNotConnected without
// publishing or touching State. Otherwise Feeding is raised at once (and
// reverted after the optimistic window whatever happens next) and the
// command is published once. A transport failure returns an error wrapping
// ErrPublishFailed.
func (d *Dispatcher) DispatchManualFeed(ctx context.Context) (Ack, error) {
	if err := d.gate.BeginOptimisticFeed(); err != nil {
		if errors.Is(err, device.ErrNotConnected) {
			d.logger.Info("manual feed rejected: not connected")
			d.record(ctx, audit.OutcomeNotConnected, "")
			return Ack{}, ErrNotConnected
		}
		return Ack{}, fmt.Errorf("command: starting manual feed: %w", err)
	}

	payload, err := json.Marshal(manualFeedPayload{Command: ManualFeedCommand})
	if err != nil {
		return Ack{}, fmt.Errorf("command: encoding payload: %w", err)
	}

	if err := d.publisher.Publish(ctx, d.topic, payload, PublishQoS, PublishRetained); err != nil {
		d.logger.Warn("manual feed publish failed", "topic", d.topic, "error", err)
		d.record(ctx, audit.OutcomePublishFailed, err.Error())
		return Ack{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	ack := Ack{
		Topic:       d.topic,
		Command:     ManualFeedCommand,
		SubmittedAt: d.now().UTC(),
	}
	ack.DispatchID = d.record(ctx, audit.OutcomeSubmitted, "")

	d.logger.Info("manual feed submitted", "topic", d.topic, "dispatch_id", ack.DispatchID)
	return ack, nil
}

// record writes the attempt to the dispatch log and diagnostics. Failures
// are logged and never change the dispatch result.
func (d *Dispatcher) record(ctx context.Context, outcome audit.Outcome, detail string) string {
	if d.diag != nil {
		d.diag.DispatchOutcome(string(outcome))
	}
	if d.recorder == nil {
		return ""
	}

	entry := &audit.Dispatch{
		Command:   ManualFeedCommand,
		Topic:     d.topic,
		Outcome:   outcome,
		Detail:    detail,
		Source:    sourceFrom(ctx),
		DeviceID:  d.deviceID,
		CreatedAt: d.now(),
	}

	// A cancelled request must not lose the row.
	if err := d.recorder.Create(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Error("recording dispatch failed", "outcome", outcome, "error", err)
		return ""
	}
	return entry.ID
}
