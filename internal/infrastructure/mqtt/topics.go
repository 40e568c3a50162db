package mqtt

import (
	"fmt"
	"strings"
)

// maxTopicLength is the MQTT limit on an encoded topic string.
const maxTopicLength = 65535

// validateTopic checks a topic name or filter.
// Publish topics may not contain wildcards.
func validateTopic(topic string, publish bool) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	if publish && strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// validateQoS checks a QoS level.
func validateQoS(qos byte) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
