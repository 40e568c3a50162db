package telemetry

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/fishfeeder/internal/device"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/mqtt"
)

type mockSubscriber struct {
	mu       sync.Mutex
	fail     map[string]error
	calls    []string
	qos      []byte
	handlers map[string]mqtt.MessageHandler
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{
		fail:     make(map[string]error),
		handlers: make(map[string]mqtt.MessageHandler),
	}
}

func (m *mockSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, topic)
	m.qos = append(m.qos, qos)
	if err := m.fail[topic]; err != nil {
		return err
	}
	m.handlers[topic] = handler
	return nil
}

type recordedDrop struct {
	topic  string
	reason string
}

type mockDiagnostics struct {
	mu    sync.Mutex
	drops []recordedDrop
}

func (m *mockDiagnostics) PayloadDropped(topic, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops = append(m.drops, recordedDrop{topic, reason})
}

// reducerSink applies messages with a bare reducer, without a store loop.
type reducerSink struct {
	r     device.Reducer
	state device.State
}

func (s *reducerSink) Apply(topic string, payload []byte) error {
	next, err := s.r.Reduce(s.state, topic, payload)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

func newSink() *reducerSink {
	return &reducerSink{r: device.NewReducer(device.DefaultTopics()), state: device.NewState()}
}

func TestRegistry_OnConnectedSubscribesAllTopics(t *testing.T) {
	reg := NewRegistry(device.DefaultTopics(), newSink())
	sub := newMockSubscriber()

	if err := reg.OnConnected(sub); err != nil {
		t.Fatalf("OnConnected() error = %v", err)
	}

	want := []string{"feed/level", "feed/last", "feed/status"}
	if len(sub.calls) != len(want) {
		t.Fatalf("subscribed %v, want %v", sub.calls, want)
	}
	for i := range want {
		if sub.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, sub.calls[i], want[i])
		}
		if sub.qos[i] != 0 {
			t.Errorf("call %d qos = %d, want 0", i, sub.qos[i])
		}
	}
}

func TestRegistry_OncePerConnection(t *testing.T) {
	reg := NewRegistry(device.DefaultTopics(), newSink())

	for conn := 0; conn < 3; conn++ {
		sub := newMockSubscriber()
		if err := reg.OnConnected(sub); err != nil {
			t.Fatalf("OnConnected() error = %v", err)
		}
		if len(sub.calls) != 3 {
			t.Errorf("connection %d: %d subscribe calls, want 3", conn, len(sub.calls))
		}
	}
	if got := reg.Stats().Subscriptions; got != 9 {
		t.Errorf("Stats().Subscriptions = %d, want 9", got)
	}
}

func TestRegistry_PartialFailure(t *testing.T) {
	reg := NewRegistry(device.DefaultTopics(), newSink())
	sub := newMockSubscriber()
	sub.fail["feed/last"] = errors.New("suback 0x80")

	err := reg.OnConnected(sub)
	if err == nil {
		t.Fatal("OnConnected() error = nil, want failure")
	}
	if !strings.Contains(err.Error(), "feed/last") {
		t.Errorf("error %q does not name the topic", err)
	}
	if len(sub.calls) != 3 {
		t.Errorf("stopped after failure: calls = %v", sub.calls)
	}
	if _, ok := sub.handlers["feed/status"]; !ok {
		t.Error("feed/status not subscribed after earlier failure")
	}
}

func TestRegistry_HandleAppliesAndDrops(t *testing.T) {
	sink := newSink()
	diag := &mockDiagnostics{}
	reg := NewRegistry(device.DefaultTopics(), sink)
	reg.SetDiagnostics(diag)

	sub := newMockSubscriber()
	if err := reg.OnConnected(sub); err != nil {
		t.Fatalf("OnConnected() error = %v", err)
	}

	if err := sub.handlers["feed/level"]("feed/level", []byte(`{"level": 150}`)); err != nil {
		t.Errorf("handler error = %v", err)
	}
	if sink.state.FoodLevelPercent == nil || *sink.state.FoodLevelPercent != 100 {
		t.Fatalf("level = %v, want 100", sink.state.FoodLevelPercent)
	}

	before := sink.state
	if err := sub.handlers["feed/status"]("feed/status", []byte(`not json`)); err != nil {
		t.Errorf("handler propagated drop: %v", err)
	}
	if !sink.state.Equal(before) {
		t.Error("malformed payload changed state")
	}

	if len(diag.drops) != 1 || diag.drops[0] != (recordedDrop{"feed/status", "malformed"}) {
		t.Errorf("drops = %+v", diag.drops)
	}

	stats := reg.Stats()
	if stats.Received != 2 || stats.Dropped != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

type closedSink struct{}

func (closedSink) Apply(string, []byte) error { return device.ErrStoreClosed }

func TestRegistry_ClosedStoreIsNotADrop(t *testing.T) {
	diag := &mockDiagnostics{}
	reg := NewRegistry(device.DefaultTopics(), closedSink{})
	reg.SetDiagnostics(diag)

	if err := reg.handle("feed/level", []byte(`{"level":1}`)); err != nil {
		t.Errorf("handle() error = %v", err)
	}
	if len(diag.drops) != 0 || reg.Stats().Dropped != 0 {
		t.Error("closed store counted as a drop")
	}
}

func TestRegistry_Topics(t *testing.T) {
	reg := NewRegistry(device.Topics{Level: "a", LastFeed: "b", Status: "c"}, newSink())
	if got := strings.Join(reg.Topics(), ","); got != "a,b,c" {
		t.Errorf("Topics() = %s", got)
	}
}
