package device

import (
	"errors"
	"fmt"
	"testing"
)

func level(v float64) []byte {
	return fmt.Appendf(nil, `{"level": %v}`, v)
}

func TestReducer_Scenario(t *testing.T) {
	r := NewReducer(DefaultTopics())
	s := NewState()

	s, err := r.Reduce(s, "feed/level", []byte(`{"level": 150}`))
	if err != nil {
		t.Fatalf("Reduce(level) error = %v", err)
	}
	if s.FoodLevelPercent == nil || *s.FoodLevelPercent != 100 {
		t.Fatalf("FoodLevelPercent = %v, want 100", s.FoodLevelPercent)
	}

	s, err = r.Reduce(s, "feed/status", []byte(`{"status":"Feeding now"}`))
	if err != nil {
		t.Fatalf("Reduce(status) error = %v", err)
	}
	if !s.Feeding || s.Status != "Feeding now" {
		t.Errorf("after Feeding now: Feeding=%v Status=%q", s.Feeding, s.Status)
	}

	s, err = r.Reduce(s, "feed/status", []byte(`{"status":"Idle"}`))
	if err != nil {
		t.Fatalf("Reduce(status) error = %v", err)
	}
	if s.Feeding {
		t.Error("Feeding = true after Idle")
	}

	s, err = r.Reduce(s, "feed/last", []byte(`{"last_feed":"Today 08:30"}`))
	if err != nil {
		t.Fatalf("Reduce(last) error = %v", err)
	}
	if s.LastFeedLabel == nil || *s.LastFeedLabel != "Today 08:30" {
		t.Errorf("LastFeedLabel = %v", s.LastFeedLabel)
	}
	if s.Connection != ConnectionDisconnected {
		t.Errorf("reducer changed Connection to %s", s.Connection)
	}
}

func TestReducer_LevelAlwaysClamped(t *testing.T) {
	r := NewReducer(DefaultTopics())

	for _, v := range []float64{-1000, -1, 0, 0.25, 33, 100, 100.5, 250, 1e12} {
		s, err := r.Reduce(NewState(), "feed/level", level(v))
		if err != nil {
			t.Fatalf("Reduce(%v) error = %v", v, err)
		}
		if got, want := *s.FoodLevelPercent, ClampLevel(v); got != want {
			t.Errorf("level %v stored as %v, want %v", v, got, want)
		}
	}
}

func TestReducer_DropLeavesStateUnchanged(t *testing.T) {
	r := NewReducer(DefaultTopics())

	prev := NewState()
	prev, _ = r.Reduce(prev, "feed/level", level(55))
	prev, _ = r.Reduce(prev, "feed/last", []byte(`{"last_feed":"yesterday"}`))
	prev, _ = r.Reduce(prev, "feed/status", []byte(`{"status":"FEEDING"}`))

	bad := []struct {
		topic   string
		payload string
		reason  string
	}{
		{"feed/level", `{"level":"lots"}`, "invalid_value"},
		{"feed/level", `{"level":null}`, "missing_field"},
		{"feed/level", `{}`, "missing_field"},
		{"feed/level", `garbage`, "malformed"},
		{"feed/last", `{"last_feed":{}}`, "invalid_value"},
		{"feed/status", `{"state":"Idle"}`, "missing_field"},
		{"feed/status", `"Idle"`, "malformed"},
		{"feed/unknown", `{"level":1}`, "unknown_topic"},
	}

	for _, b := range bad {
		next, err := r.Reduce(prev, b.topic, []byte(b.payload))
		if err == nil {
			t.Errorf("Reduce(%s, %s) succeeded, want error", b.topic, b.payload)
			continue
		}
		if got := DropReason(err); got != b.reason {
			t.Errorf("DropReason(%v) = %q, want %q", err, got, b.reason)
		}
		if !next.Equal(prev) {
			t.Errorf("Reduce(%s, %s) changed state", b.topic, b.payload)
		}
	}
}

func TestReducer_DoesNotAliasInput(t *testing.T) {
	r := NewReducer(DefaultTopics())

	first, _ := r.Reduce(NewState(), "feed/level", level(10))
	second, _ := r.Reduce(first, "feed/level", level(20))

	if *first.FoodLevelPercent != 10 {
		t.Errorf("input state mutated: level = %v", *first.FoodLevelPercent)
	}
	if *second.FoodLevelPercent != 20 {
		t.Errorf("level = %v, want 20", *second.FoodLevelPercent)
	}
}

func TestReducer_CustomTopics(t *testing.T) {
	r := NewReducer(Topics{Level: "tank/1/level", LastFeed: "tank/1/last", Status: "tank/1/status"})

	if _, err := r.Reduce(NewState(), "feed/level", level(1)); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("default topic accepted: %v", err)
	}
	s, err := r.Reduce(NewState(), "tank/1/level", level(1))
	if err != nil || *s.FoodLevelPercent != 1 {
		t.Errorf("custom topic: state=%v err=%v", s.FoodLevelPercent, err)
	}
}

func TestTopics_All(t *testing.T) {
	got := DefaultTopics().All()
	want := []string{"feed/level", "feed/last", "feed/status"}
	if len(got) != len(want) {
		t.Fatalf("All() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDropReason_Other(t *testing.T) {
	if got := DropReason(errors.New("boom")); got != "other" {
		t.Errorf("DropReason() = %q, want other", got)
	}
}
