package mqtt

import (
	"errors"
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when the session has no live client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrInvalidBroker is returned by Start for a broker URL paho cannot dial.
	ErrInvalidBroker = errors.New("mqtt: invalid broker url")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or invalid topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrStopped is returned by Publish and Subscribe once the session has
	// ended, and by Err after Stop. It matches ErrNotConnected.
	ErrStopped = fmt.Errorf("%w: session stopped", ErrNotConnected)
)

// isUnrecoverable reports whether a connect error means retrying with the
// same settings can never succeed.
func isUnrecoverable(err error) bool {
	return errors.Is(err, ErrInvalidBroker) ||
		errors.Is(err, packets.ErrorRefusedBadProtocolVersion) ||
		errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised)
}
