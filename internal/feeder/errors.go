package feeder

import "errors"

var (
	// ErrAlreadyStarted is returned by Start while a session is running.
	ErrAlreadyStarted = errors.New("feeder: session already started")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("feeder: service closed")

	// ErrInvalidTopics is returned by New when a topic is missing or unusable.
	ErrInvalidTopics = errors.New("feeder: invalid topics")
)
