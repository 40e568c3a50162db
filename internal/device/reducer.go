package device

import "fmt"

// Topics maps the three telemetry topic names to their kinds.
type Topics struct {
	Level    string
	LastFeed string
	Status   string
}

// DefaultTopics returns the topic names the feeder firmware publishes on.
func DefaultTopics() Topics {
	return Topics{
		Level:    "feed/level",
		LastFeed: "feed/last",
		Status:   "feed/status",
	}
}

// Kind returns the kind carried by topic.
func (t Topics) Kind(topic string) (TopicKind, bool) {
	switch topic {
	case t.Level:
		return TopicLevel, true
	case t.LastFeed:
		return TopicLastFeed, true
	case t.Status:
		return TopicStatus, true
	}
	return 0, false
}

// All returns the topic names in subscription order.
func (t Topics) All() []string {
	return []string{t.Level, t.LastFeed, t.Status}
}

// Reducer turns one inbound message into the next State.
//
// Reduce is pure: it never touches shared state and never reads the clock.
// On error the returned State is the input unchanged.
type Reducer struct {
	Topics Topics
}

// NewReducer creates a reducer for the given topic names.
func NewReducer(topics Topics) Reducer {
	return Reducer{Topics: topics}
}

// Reduce applies the message on topic to s.
func (r Reducer) Reduce(s State, topic string, payload []byte) (State, error) {
	kind, ok := r.Topics.Kind(topic)
	if !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	env, err := Decode(kind, payload)
	if err != nil {
		return s, fmt.Errorf("%s: %w", kind, err)
	}

	return env.apply(s), nil
}
