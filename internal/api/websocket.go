package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fishfeeder/internal/infrastructure/config"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/logging"
)

// Frame types. Clients send subscribe, unsubscribe and ping.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FramePing         = "ping"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FramePong         = "pong"
	FrameEvent        = "event"
	FrameError        = "error"
)

// ChannelDeviceState carries every device State change.
const ChannelDeviceState = "device.state"

// replyBufferSize bounds queued replies per client. Events are not queued:
// each client holds at most the newest one.
const replyBufferSize = 16

// Frame is one WebSocket message in either direction.
type Frame struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Time     string   `json:"time,omitempty"`
	Payload  any      `json:"payload,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Hub fans channel events out to subscribed WebSocket clients.
//
// The last event of every channel is kept and handed to new subscribers,
// so a client never waits for the next change to learn the current value.
// A client that reads slower than events arrive skips to the newest one.
type Hub struct {
	logger *logging.Logger

	mu      sync.Mutex
	known   map[string]struct{}
	latest  map[string][]byte
	clients map[*wsClient]struct{}
}

// NewHub creates a hub serving the given channels.
func NewHub(logger *logging.Logger, channels ...string) *Hub {
	h := &Hub{
		logger:  logger,
		known:   make(map[string]struct{}, len(channels)),
		latest:  make(map[string][]byte, len(channels)),
		clients: make(map[*wsClient]struct{}),
	}
	for _, ch := range channels {
		h.known[ch] = struct{}{}
	}
	return h
}

// Publish records payload as the latest value of channel and offers it to
// every subscriber.
func (h *Hub) Publish(channel string, payload any) {
	frame, err := json.Marshal(Frame{
		Type:    FrameEvent,
		Channel: channel,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Payload: payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[channel] = frame
	n := 0
	for c := range h.clients {
		if _, ok := c.channels[channel]; ok {
			c.offerEvent(frame)
			n++
		}
	}
	if n > 0 {
		h.logger.Debug("websocket event published", "channel", channel, "recipients", n)
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.shutdown()
		delete(h.clients, c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// subscribe adds channels for c, replies, then queues the latest event of
// each channel. Holding the lock keeps a concurrent Publish from slipping
// an older value in after a newer one.
func (h *Hub) subscribe(c *wsClient, id string, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		if _, ok := h.known[ch]; !ok {
			c.reply(Frame{Type: FrameError, ID: id, Error: "unknown channel: " + ch})
			return
		}
	}
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	c.reply(Frame{Type: FrameSubscribed, ID: id, Channels: channels})

	for _, ch := range slices.Compact(slices.Sorted(slices.Values(channels))) {
		if frame, ok := h.latest[ch]; ok {
			c.offerEvent(frame)
		}
	}
}

func (h *Hub) unsubscribe(c *wsClient, id string, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		delete(c.channels, ch)
	}
	c.reply(Frame{Type: FrameUnsubscribed, ID: id, Channels: channels})
}

// wsClient is one WebSocket connection. channels is guarded by the hub lock.
type wsClient struct {
	hub      *Hub
	conn     *websocket.Conn
	channels map[string]struct{}

	replies chan []byte
	events  chan []byte // capacity 1, newest wins
	done    chan struct{}
	once    sync.Once
}

func newWSClient(hub *Hub, conn *websocket.Conn) *wsClient {
	return &wsClient{
		hub:      hub,
		conn:     conn,
		channels: make(map[string]struct{}),
		replies:  make(chan []byte, replyBufferSize),
		events:   make(chan []byte, 1),
		done:     make(chan struct{}),
	}
}

// shutdown stops the write loop. Safe to call more than once.
func (c *wsClient) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// offerEvent replaces any event the writer has not picked up yet.
func (c *wsClient) offerEvent(frame []byte) {
	for {
		select {
		case c.events <- frame:
			return
		case <-c.done:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}

// reply queues a control frame. A client that lets replies pile up loses them.
func (c *wsClient) reply(f Frame) {
	f.Time = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.replies <- data:
	default:
		c.hub.logger.Debug("websocket reply dropped", "type", f.Type)
	}
}

// handleWebSocket upgrades the connection and starts its read and write loops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Browsers always send Origin. Clients that omit it are not
		// subject to cross-site requests.
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r.Context()))
		return
	}

	c := newWSClient(s.hub, conn)
	s.hub.add(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

// readLoop handles client frames until the connection fails or goes quiet
// for longer than one ping interval plus the pong timeout.
func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.reply(Frame{Type: FrameError, Error: "invalid JSON frame"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // a failed deadline surfaces as a read error

		switch f.Type {
		case FrameSubscribe:
			c.hub.subscribe(c, f.ID, f.Channels)
		case FrameUnsubscribe:
			c.hub.unsubscribe(c, f.ID, f.Channels)
		case FramePing:
			c.reply(Frame{Type: FramePong, ID: f.ID})
		default:
			c.reply(Frame{Type: FrameError, ID: f.ID, Error: "unknown frame type: " + f.Type})
		}
	}
}

// writeLoop sends replies ahead of events and pings on the configured
// interval.
func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	wait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) bool {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(wait))
		return c.conn.WriteMessage(kind, data) == nil
	}

	for {
		var data []byte
		select {
		case data = <-c.replies:
		default:
			select {
			case <-c.done:
				write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			case data = <-c.replies:
			case data = <-c.events:
			case <-ticker.C:
				if !write(websocket.PingMessage, nil) {
					return
				}
				continue
			}
		}
		if !write(websocket.TextMessage, data) {
			return
		}
	}
}
