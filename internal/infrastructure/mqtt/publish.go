package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends payload to topic on the live connection.
//
// For QoS 0 success means paho accepted the message for sending; there is
// no broker acknowledgement. There is no retry.
//
// Returns ErrNotConnected when the session is not connected, ErrStopped once
// it has ended, or an error wrapping ErrPublishFailed.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if err := validateTopic(topic, true); err != nil {
		return err
	}
	if err := validateQoS(qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	client, err := s.liveClient()
	if err != nil {
		return err
	}

	token := client.Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// waitToken waits for token, ctx or timeout, whichever comes first.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
