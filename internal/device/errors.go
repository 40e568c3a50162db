package device

import "errors"

// Domain errors for the device package.
//
// Every reducer error means the message was dropped and State is unchanged:
//
//	if errors.Is(err, device.ErrMalformedPayload) {
//	    // report on the diagnostic side channel
//	}
var (
	// ErrMalformedPayload is returned when a payload is not a JSON object.
	ErrMalformedPayload = errors.New("device: malformed payload")

	// ErrMissingField is returned when the expected field is absent or null.
	ErrMissingField = errors.New("device: missing field")

	// ErrInvalidValue is returned when a field cannot be coerced to its type.
	ErrInvalidValue = errors.New("device: invalid value")

	// ErrUnknownTopic is returned for messages on a topic with no reducer.
	ErrUnknownTopic = errors.New("device: unknown topic")

	// ErrNotConnected is returned by the optimistic feed gate when the
	// session is not connected.
	ErrNotConnected = errors.New("device: not connected")

	// ErrStoreClosed is returned when submitting to a store whose loop has exited.
	ErrStoreClosed = errors.New("device: store closed")

	// ErrInvalidConnection is returned for an unknown ConnectionState value.
	ErrInvalidConnection = errors.New("device: invalid connection state")
)

// DropReason classifies a reducer error for diagnostics.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrUnknownTopic):
		return "unknown_topic"
	default:
		return "other"
	}
}
