package mqtt

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/fishfeeder/internal/infrastructure/config"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/mqtt/mqtttest"
)

// =============================================================================
// Helpers
// =============================================================================

func testConfig() config.MQTTConfig {
	cfg := config.Default().MQTT
	cfg.Broker.URL = "tcp://broker.test:1883"
	cfg.ReconnectIntervalMs = 40
	cfg.ConnectTimeoutMs = 200
	return cfg
}

// stateLog records every OnStateChange call.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func (l *stateLog) last() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return StateDisconnected
	}
	return l.states[len(l.states)-1]
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestStart_ConnectsAndReportsStates(t *testing.T) {
	broker := mqtttest.NewBroker()
	log := &stateLog{}
	var hookCalls int
	var mu sync.Mutex

	sess, err := Start(context.Background(), testConfig(), SessionDeps{
		IDSource:      IDSourceFunc(func() string { return "rn_feeder_42" }),
		NewClient:     broker.NewClient,
		OnStateChange: log.record,
		OnConnected: func(*Session) error {
			mu.Lock()
			hookCalls++
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()

	eventually(t, "connected", func() bool { return sess.IsConnected() })

	got := log.snapshot()
	if len(got) != 2 || got[0] != StateConnecting || got[1] != StateConnected {
		t.Errorf("states = %v, want [connecting connected]", got)
	}
	mu.Lock()
	if hookCalls != 1 {
		t.Errorf("OnConnected called %d times, want 1", hookCalls)
	}
	mu.Unlock()

	c := broker.Client(0)
	if c.Options().ClientID != "rn_feeder_42" {
		t.Errorf("ClientID = %q", c.Options().ClientID)
	}
	if c.Options().AutoReconnect {
		t.Error("paho auto-reconnect enabled")
	}
	if !c.Options().CleanSession {
		t.Error("clean session disabled")
	}
	if c.Options().KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", c.Options().KeepAlive)
	}
}

func TestStart_InvalidBroker(t *testing.T) {
	for _, raw := range []string{"", "broker.emqx.io", "http://broker.test", "::"} {
		cfg := testConfig()
		cfg.Broker.URL = raw
		if _, err := Start(context.Background(), cfg, SessionDeps{}); !errors.Is(err, ErrInvalidBroker) {
			t.Errorf("Start(%q) error = %v, want ErrInvalidBroker", raw, err)
		}
	}
}

func TestSession_ResubscribesOncePerConnection(t *testing.T) {
	broker := mqtttest.NewBroker()
	log := &stateLog{}

	sess, err := Start(context.Background(), testConfig(), SessionDeps{
		NewClient:     broker.NewClient,
		OnStateChange: log.record,
		OnConnected: func(s *Session) error {
			return s.Subscribe("feed/status", 0, func(string, []byte) error { return nil })
		},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()

	for i := 0; i < 3; i++ {
		eventually(t, "client "+strconv.Itoa(i)+" subscribed", func() bool {
			c := broker.Client(i)
			return c != nil && c.SubscribeCalls() == 1 && sess.State() == StateConnected
		})
		if i < 2 {
			broker.Client(i).Drop(errors.New("EOF"))
		}
	}

	for i := 0; i < 3; i++ {
		if n := broker.Client(i).SubscribeCalls(); n != 1 {
			t.Errorf("client %d: %d subscribe calls, want 1", i, n)
		}
	}

	want := []State{
		StateConnecting, StateConnected,
		StateReconnecting, StateConnected,
		StateReconnecting, StateConnected,
	}
	got := log.snapshot()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSession_FixedReconnectInterval(t *testing.T) {
	fail := errors.New("dial tcp: connection refused")
	broker := mqtttest.NewBroker()
	broker.FailConnects(fail, fail, fail, fail)
	cfg := testConfig()
	interval := cfg.ReconnectInterval()

	sess, err := Start(context.Background(), cfg, SessionDeps{NewClient: broker.NewClient})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()

	eventually(t, "fifth attempt", func() bool { return sess.IsConnected() })

	times := broker.Attempts()
	if len(times) != 5 {
		t.Fatalf("attempts = %d, want 5", len(times))
	}
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		if gap < interval {
			t.Errorf("gap %d = %v, shorter than %v", i, gap, interval)
		}
		if gap > interval+500*time.Millisecond {
			t.Errorf("gap %d = %v, interval is not fixed", i, gap)
		}
	}
}

func TestSession_FailedAttemptReportsReconnecting(t *testing.T) {
	broker := mqtttest.NewBroker()
	broker.FailConnects(errors.New("timeout"))
	log := &stateLog{}

	sess, err := Start(context.Background(), testConfig(), SessionDeps{
		NewClient:     broker.NewClient,
		OnStateChange: log.record,
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()

	eventually(t, "connected", func() bool { return sess.IsConnected() })

	got := log.snapshot()
	want := []State{StateConnecting, StateReconnecting, StateConnected}
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSession_UnrecoverableRefusal(t *testing.T) {
	refusals := []error{
		packets.ErrorRefusedBadProtocolVersion,
		packets.ErrorRefusedBadUsernameOrPassword,
		packets.ErrorRefusedNotAuthorised,
	}

	for _, refusal := range refusals {
		t.Run(refusal.Error(), func(t *testing.T) {
			broker := mqtttest.NewBroker()
			broker.FailConnects(refusal)
			log := &stateLog{}

			sess, err := Start(context.Background(), testConfig(), SessionDeps{
				NewClient:     broker.NewClient,
				OnStateChange: log.record,
			})
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			select {
			case <-sess.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("session kept retrying after refusal")
			}

			if n := len(broker.Attempts()); n != 1 {
				t.Errorf("attempts = %d, want 1", n)
			}
			if got := log.last(); got != StateDisconnected {
				t.Errorf("final state = %s, want disconnected", got)
			}
			if err := sess.Err(); !errors.Is(err, refusal) {
				t.Errorf("Err() = %v, want %v", err, refusal)
			}
			if err := sess.Stop(); err != nil {
				t.Errorf("Stop() after exit error = %v", err)
			}
			if err := sess.Err(); !errors.Is(err, refusal) {
				t.Errorf("Err() after Stop = %v, want the refusal kept", err)
			}
		})
	}
}

func TestSession_StopFromAnyState(t *testing.T) {
	hanging := mqtttest.NewBroker()
	hanging.HangConnects(true)
	refusing := mqtttest.NewBroker()
	refusing.FailConnects(errors.New("refused"), errors.New("refused"))

	tests := []struct {
		name   string
		broker *mqtttest.Broker
		wait   State
	}{
		{"connected", mqtttest.NewBroker(), StateConnected},
		{"connecting", hanging, StateConnecting},
		{"reconnecting", refusing, StateReconnecting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &stateLog{}
			cfg := testConfig()
			cfg.ReconnectIntervalMs = 10_000

			sess, err := Start(context.Background(), cfg, SessionDeps{
				NewClient:     tt.broker.NewClient,
				OnStateChange: log.record,
			})
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			eventually(t, tt.wait.String(), func() bool {
				return sess.State() == tt.wait && tt.broker.ClientCount() > 0
			})

			stopped := make(chan struct{})
			go func() {
				_ = sess.Stop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(time.Second):
				t.Fatal("Stop() did not return")
			}

			if sess.State() != StateDisconnected || log.last() != StateDisconnected {
				t.Errorf("state after Stop = %s", sess.State())
			}
			if sess.IsConnected() {
				t.Error("IsConnected() after Stop")
			}
			if c := tt.broker.Last(); tt.wait != StateReconnecting && c.IsConnected() {
				t.Error("client still connected after Stop")
			}
		})
	}
}

func TestSession_ContextCancelStops(t *testing.T) {
	broker := mqtttest.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	sess, err := Start(ctx, testConfig(), SessionDeps{NewClient: broker.NewClient})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	eventually(t, "connected", sess.IsConnected)

	cancel()
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not exit on context cancel")
	}
	if broker.Client(0).IsConnected() {
		t.Error("client still connected")
	}
	if err := sess.Err(); !errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped) {
		t.Errorf("Err() = %v, want context.Canceled", err)
	}
}

func TestSession_OperationsAfterStop(t *testing.T) {
	broker := mqtttest.NewBroker()
	sess, err := Start(context.Background(), testConfig(), SessionDeps{NewClient: broker.NewClient})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	eventually(t, "connected", sess.IsConnected)

	if err := sess.Err(); err != nil {
		t.Errorf("Err() while running = %v, want nil", err)
	}

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := sess.Err(); !errors.Is(err, ErrStopped) {
		t.Errorf("Err() after Stop = %v, want ErrStopped", err)
	}

	err = sess.Publish(context.Background(), "feed/manual", []byte("{}"), 0, false)
	if !errors.Is(err, ErrStopped) || !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Stop = %v, want ErrStopped", err)
	}
	if err := sess.Subscribe("feed/level", 0, func(string, []byte) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Subscribe() after Stop = %v, want ErrStopped", err)
	}
	if n := len(broker.Client(0).Published()); n != 0 {
		t.Errorf("published after Stop = %d, want 0", n)
	}
}

// =============================================================================
// Publish / Subscribe
// =============================================================================

func TestSession_Publish(t *testing.T) {
	broker := mqtttest.NewBroker()
	sess, err := Start(context.Background(), testConfig(), SessionDeps{NewClient: broker.NewClient})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()
	eventually(t, "connected", sess.IsConnected)

	ctx := context.Background()
	payload := []byte(`{"command":"ON"}`)
	if err := sess.Publish(ctx, "feed/manual", payload, 0, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	pubs := broker.Client(0).Published()
	if len(pubs) != 1 || pubs[0].Topic() != "feed/manual" || pubs[0].Qos() != 0 || pubs[0].Retained() {
		t.Errorf("published = %+v", pubs)
	}

	if err := sess.Publish(ctx, "feed/#", payload, 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("wildcard Publish() error = %v", err)
	}
	if err := sess.Publish(ctx, "feed/manual", payload, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 Publish() error = %v", err)
	}
	if err := sess.Publish(ctx, "feed/manual", make([]byte, maxPayloadSize+1), 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized Publish() error = %v", err)
	}

	broker.FailPublishes(errors.New("write: broken pipe"))
	if err := sess.Publish(ctx, "feed/manual", payload, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("failed Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestSession_PublishNotConnected(t *testing.T) {
	broker := mqtttest.NewBroker()
	broker.HangConnects(true)
	sess, err := Start(context.Background(), testConfig(), SessionDeps{NewClient: broker.NewClient})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()

	err = sess.Publish(context.Background(), "feed/manual", []byte("{}"), 0, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := sess.Subscribe("feed/level", 0, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestSession_SubscribeHandlers(t *testing.T) {
	broker := mqtttest.NewBroker()
	got := make(chan string, 4)

	sess, err := Start(context.Background(), testConfig(), SessionDeps{
		NewClient: broker.NewClient,
		OnConnected: func(s *Session) error {
			if err := s.Subscribe("feed/level", 0, func(topic string, payload []byte) error {
				got <- topic + " " + string(payload)
				return errors.New("ignored")
			}); err != nil {
				return err
			}
			return s.Subscribe("feed/status", 0, func(string, []byte) error {
				panic("handler bug")
			})
		},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()

	eventually(t, "subscribed", func() bool {
		c := broker.Client(0)
		return c != nil && c.SubscribeCalls() == 2
	})
	c := broker.Client(0)

	if !c.Deliver("feed/status", []byte(`{"status":"x"}`)) {
		t.Fatal("feed/status not subscribed")
	}
	if !c.Deliver("feed/level", []byte(`{"level":1}`)) {
		t.Fatal("feed/level not subscribed")
	}
	if msg := <-got; msg != `feed/level {"level":1}` {
		t.Errorf("handler got %q", msg)
	}

	if err := sess.Subscribe("", 0, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(\"\") error = %v", err)
	}
	if err := sess.Subscribe("feed/level", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil) error = %v", err)
	}
}

func TestSession_SubscribeFailure(t *testing.T) {
	broker := mqtttest.NewBroker()
	broker.FailSubscribes(errors.New("suback failure"))
	hookErr := make(chan error, 1)

	sess, err := Start(context.Background(), testConfig(), SessionDeps{
		NewClient: broker.NewClient,
		OnConnected: func(s *Session) error {
			err := s.Subscribe("feed/level", 0, func(string, []byte) error { return nil })
			hookErr <- err
			return err
		},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()

	select {
	case err := <-hookErr:
		if !errors.Is(err, ErrSubscribeFailed) || !strings.Contains(err.Error(), "feed/level") {
			t.Errorf("Subscribe() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnected not called")
	}
	if !sess.IsConnected() {
		t.Error("subscribe failure must not drop the session")
	}
}

// =============================================================================
// Client IDs
// =============================================================================

func TestRandomIDSource(t *testing.T) {
	src := RandomIDSource{Prefix: "rn_feeder_"}
	seen := make(map[string]bool)

	for i := 0; i < 200; i++ {
		id := src.NewClientID()
		suffix, ok := strings.CutPrefix(id, "rn_feeder_")
		if !ok {
			t.Fatalf("id %q missing prefix", id)
		}
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 0 || n > maxClientIDSuffix {
			t.Fatalf("id %q suffix out of range", id)
		}
		seen[id] = true
	}
	if len(seen) < 150 {
		t.Errorf("only %d distinct ids in 200 draws", len(seen))
	}
}

func TestSession_FreshClientIDPerAttempt(t *testing.T) {
	broker := mqtttest.NewBroker()
	broker.FailConnects(errors.New("refused"))
	var n int
	var mu sync.Mutex
	ids := IDSourceFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "id-" + strconv.Itoa(n)
	})

	sess, err := Start(context.Background(), testConfig(), SessionDeps{NewClient: broker.NewClient, IDSource: ids})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()
	eventually(t, "connected", sess.IsConnected)

	if a, b := broker.Client(0).Options().ClientID, broker.Client(1).Options().ClientID; a != "id-1" || b != "id-2" {
		t.Errorf("client ids = %q, %q", a, b)
	}
}

func TestState_String(t *testing.T) {
	names := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		State(42):         "unknown",
	}
	for s, want := range names {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
