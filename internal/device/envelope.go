package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TopicKind identifies which telemetry shape a topic carries.
type TopicKind int

const (
	TopicLevel TopicKind = iota + 1
	TopicLastFeed
	TopicStatus
)

// String returns the kind name used in logs and diagnostics.
func (k TopicKind) String() string {
	switch k {
	case TopicLevel:
		return "level"
	case TopicLastFeed:
		return "last_feed"
	case TopicStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Payload field names, one per topic.
const (
	fieldLevel    = "level"
	fieldLastFeed = "last_feed"
	fieldStatus   = "status"
)

// feedingToken is matched case-insensitively against the status text.
const feedingToken = "FEED"

// Envelope is one decoded telemetry message: a LevelReading, a
// LastFeedEvent or a StatusEvent.
type Envelope interface {
	Kind() TopicKind
	apply(State) State
}

// LevelReading carries the remaining food as a percentage.
type LevelReading struct {
	Level float64
}

// LastFeedEvent carries the device's label for the last feeding.
type LastFeedEvent struct {
	LastFeed string
}

// StatusEvent carries free-form device status text.
type StatusEvent struct {
	Status string
}

func (LevelReading) Kind() TopicKind  { return TopicLevel }
func (LastFeedEvent) Kind() TopicKind { return TopicLastFeed }
func (StatusEvent) Kind() TopicKind   { return TopicStatus }

func (e LevelReading) apply(s State) State {
	out := s.Clone()
	v := ClampLevel(e.Level)
	out.FoodLevelPercent = &v
	return out
}

func (e LastFeedEvent) apply(s State) State {
	out := s.Clone()
	v := e.LastFeed
	out.LastFeedLabel = &v
	return out
}

func (e StatusEvent) apply(s State) State {
	out := s.Clone()
	out.Status = e.Status
	out.Feeding = DeriveFeeding(e.Status)
	return out
}

// ClampLevel bounds a level reading to [0, 100].
func ClampLevel(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// DeriveFeeding reports whether a status text means the feeder is running.
// Any status containing "feed" in any case counts.
func DeriveFeeding(status string) bool {
	return strings.Contains(strings.ToUpper(status), feedingToken)
}

// Decode parses a raw payload into the envelope for kind.
//
// The payload must be a JSON object carrying the field for its kind.
// Returned errors wrap ErrMalformedPayload, ErrMissingField or ErrInvalidValue.
func Decode(kind TopicKind, payload []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: payload is null", ErrMalformedPayload)
	}

	switch kind {
	case TopicLevel:
		raw, err := field(fields, fieldLevel)
		if err != nil {
			return nil, err
		}
		v, err := coerceNumber(raw)
		if err != nil {
			return nil, err
		}
		return LevelReading{Level: v}, nil

	case TopicLastFeed:
		raw, err := field(fields, fieldLastFeed)
		if err != nil {
			return nil, err
		}
		v, err := coerceText(raw)
		if err != nil {
			return nil, err
		}
		return LastFeedEvent{LastFeed: v}, nil

	case TopicStatus:
		raw, err := field(fields, fieldStatus)
		if err != nil {
			return nil, err
		}
		v, err := coerceText(raw)
		if err != nil {
			return nil, err
		}
		return StatusEvent{Status: v}, nil
	}

	return nil, fmt.Errorf("%w: kind %d", ErrUnknownTopic, kind)
}

// field returns the raw value of name, treating JSON null as absent.
func field(fields map[string]json.RawMessage, name string) (json.RawMessage, error) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("%w: %q", ErrMissingField, name)
	}
	return raw, nil
}

// coerceNumber accepts a JSON number or a string holding one.
func coerceNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, fmt.Errorf("%w: empty level", ErrInvalidValue)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: level %q is not a number", ErrInvalidValue, s)
		}
		return v, nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: level %s is not a number", ErrInvalidValue, raw)
	}
	return v, nil
}

// coerceText accepts a non-empty string or a number rendered as text.
func coerceText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("%w: empty text", ErrInvalidValue)
		}
		return s, nil
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}

	return "", fmt.Errorf("%w: %s is not text", ErrInvalidValue, raw)
}
