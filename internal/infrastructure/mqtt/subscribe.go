package mqtt

import (
	"fmt"
)

// Subscribe registers handler for topic on the live connection and waits
// for the broker's SUBACK.
//
// Subscriptions are not tracked: a clean session starts with none, so the
// OnConnected hook must subscribe again after every reconnection.
//
// Topics can include MQTT wildcards (+ and #). After the session has ended
// Subscribe returns ErrStopped.
func (s *Session) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validateTopic(topic, false); err != nil {
		return err
	}
	if err := validateQoS(qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	client, err := s.liveClient()
	if err != nil {
		return err
	}

	token := client.Subscribe(topic, qos, s.wrapHandler(handler))
	if err := waitToken(s.ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}
