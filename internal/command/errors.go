package command

import "errors"

var (
	// ErrNotConnected is returned when a dispatch is attempted while the
	// session is not connected. Nothing is published and State is unchanged.
	ErrNotConnected = errors.New("command: not connected")

	// ErrPublishFailed is returned when the transport rejected the publish.
	// The optimistic Feeding flag is not rolled back.
	ErrPublishFailed = errors.New("command: publish failed")
)
