package device

import (
	"context"
	"sync"
	"time"
)

// OptimisticFeedWindow is how long a manual feed keeps Feeding raised
// before it is reverted, whatever the device reports meanwhile.
const OptimisticFeedWindow = 5 * time.Second

// eventQueueSize bounds how many submitted events may wait for the loop.
const eventQueueSize = 64

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventKind enumerates the inputs the store loop applies.
type EventKind int

const (
	EventConnection EventKind = iota + 1
	EventMessage
	EventDispatchRequested
	EventOptimisticRevertDue
	EventReset
)

// String returns the event name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventConnection:
		return "connection"
	case EventMessage:
		return "message"
	case EventDispatchRequested:
		return "dispatch_requested"
	case EventOptimisticRevertDue:
		return "optimistic_revert_due"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event is one serialized input to the store.
type Event struct {
	Kind       EventKind
	Connection ConnectionState
	Topic      string
	Payload    []byte

	generation uint64
	reply      chan error
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Topics names the telemetry topics. Zero value uses DefaultTopics.
	Topics Topics

	// OptimisticWindow overrides OptimisticFeedWindow. Tests only.
	OptimisticWindow time.Duration

	// Logger receives debug output for applied events.
	Logger Logger

	// Clock stamps UpdatedAt. Defaults to time.Now.
	Clock func() time.Time
}

// Store owns the device State.
//
// Every mutation (lifecycle transitions, telemetry, optimistic dispatch,
// scheduled reverts) is an Event applied one at a time by the goroutine
// running Run. Readers take copies with Snapshot or follow changes with Watch.
type Store struct {
	reducer Reducer
	window  time.Duration
	clock   func() time.Time
	logger  Logger

	events chan Event
	done   chan struct{}

	mu    sync.RWMutex
	state State

	watchMu   sync.Mutex
	watchers  map[uint64]chan State
	nextWatch uint64
	closed    bool

	// Owned by the Run goroutine.
	revertTimer *time.Timer
	revertGen   uint64
}

// NewStore creates a store holding the default State. Call Run to start
// applying events.
func NewStore(opts StoreOptions) *Store {
	if opts.Topics == (Topics{}) {
		opts.Topics = DefaultTopics()
	}
	if opts.OptimisticWindow <= 0 {
		opts.OptimisticWindow = OptimisticFeedWindow
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Store{
		reducer:  NewReducer(opts.Topics),
		window:   opts.OptimisticWindow,
		clock:    opts.Clock,
		logger:   opts.Logger,
		events:   make(chan Event, eventQueueSize),
		done:     make(chan struct{}),
		state:    NewState(),
		watchers: make(map[uint64]chan State),
	}
}

// Run applies events until ctx is cancelled. It must be called exactly once.
func (s *Store) Run(ctx context.Context) {
	defer func() {
		if s.revertTimer != nil {
			s.revertTimer.Stop()
		}
		close(s.done)
		s.closeWatchers()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			err := s.apply(ev)
			if ev.reply != nil {
				ev.reply <- err
			}
		}
	}
}

// Done is closed when Run has returned.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// SetConnection records a session lifecycle transition.
func (s *Store) SetConnection(c ConnectionState) error {
	return s.submit(Event{Kind: EventConnection, Connection: c})
}

// Apply reduces one inbound telemetry message. A non-nil error means the
// message was dropped and State is unchanged.
func (s *Store) Apply(topic string, payload []byte) error {
	return s.submit(Event{Kind: EventMessage, Topic: topic, Payload: payload})
}

// BeginOptimisticFeed raises Feeding if the session is connected and
// schedules its revert after the optimistic window. A newer call replaces
// the pending revert. Returns ErrNotConnected without changing anything
// otherwise.
func (s *Store) BeginOptimisticFeed() error {
	return s.submit(Event{Kind: EventDispatchRequested})
}

// Reset restores the default State and cancels any pending revert.
func (s *Store) Reset() error {
	return s.submit(Event{Kind: EventReset})
}

// Snapshot returns a copy of the current State.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Watch returns a channel that receives the current State and then every
// change. Slow readers only see the latest State. The channel is closed by
// the returned cancel func or when Run exits.
func (s *Store) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.watchMu.Lock()
	if s.closed {
		s.watchMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch
	ch <- s.Snapshot()
	s.watchMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			if c, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// submit hands ev to the loop and waits for it to be applied.
func (s *Store) submit(ev Event) error {
	ev.reply = make(chan error, 1)

	select {
	case s.events <- ev:
	case <-s.done:
		return ErrStoreClosed
	}

	select {
	case err := <-ev.reply:
		return err
	case <-s.done:
		select {
		case err := <-ev.reply:
			return err
		default:
			return ErrStoreClosed
		}
	}
}

// post hands ev to the loop without waiting. Used by timers.
func (s *Store) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// apply runs on the loop goroutine.
func (s *Store) apply(ev Event) error {
	cur := s.Snapshot()

	var next State
	switch ev.Kind {
	case EventConnection:
		if !ev.Connection.Valid() {
			return ErrInvalidConnection
		}
		next = cur.Clone()
		next.Connection = ev.Connection

	case EventMessage:
		var err error
		next, err = s.reducer.Reduce(cur, ev.Topic, ev.Payload)
		if err != nil {
			return err
		}

	case EventDispatchRequested:
		if cur.Connection != ConnectionConnected {
			return ErrNotConnected
		}
		next = cur.Clone()
		next.Feeding = true
		s.scheduleRevert()

	case EventOptimisticRevertDue:
		if ev.generation != s.revertGen || s.revertTimer == nil {
			// Superseded by a newer dispatch or cancelled by Reset.
			return nil
		}
		s.revertTimer = nil
		next = cur.Clone()
		next.Feeding = false

	case EventReset:
		s.cancelRevert()
		next = NewState()

	default:
		return nil
	}

	s.commit(cur, next, ev.Kind)
	return nil
}

// scheduleRevert arms a one-shot revert, replacing any pending one.
func (s *Store) scheduleRevert() {
	s.cancelRevert()
	gen := s.revertGen
	s.revertTimer = time.AfterFunc(s.window, func() {
		s.post(Event{Kind: EventOptimisticRevertDue, generation: gen})
	})
}

// cancelRevert stops the pending revert; a revert already queued is
// ignored because its generation no longer matches.
func (s *Store) cancelRevert() {
	if s.revertTimer != nil {
		s.revertTimer.Stop()
		s.revertTimer = nil
	}
	s.revertGen++
}

// commit publishes next if it differs from cur.
func (s *Store) commit(cur, next State, kind EventKind) {
	if next.Equal(cur) {
		return
	}
	next.UpdatedAt = s.clock()

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	s.logger.Debug("device state changed",
		"event", kind.String(),
		"connection", next.Connection,
		"status", next.Status,
		"feeding", next.Feeding,
	)

	s.notify(next.Clone())
}

// notify delivers st to every watcher, replacing any unread value.
func (s *Store) notify(st State) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, ch := range s.watchers {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// closeWatchers closes every watcher channel once the loop has exited.
func (s *Store) closeWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.closed = true
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
}
