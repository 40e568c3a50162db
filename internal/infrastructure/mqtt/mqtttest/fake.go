// Package mqtttest provides an in-memory stand-in for the paho client so
// session behaviour can be tested without a broker.
//
//	broker := mqtttest.NewBroker()
//	sess, _ := mqtt.Start(ctx, cfg, mqtt.SessionDeps{NewClient: broker.NewClient})
//	broker.Last().Deliver("feed/level", []byte(`{"level":40}`))
//	broker.Last().Drop(io.EOF)
package mqtttest

import (
	"slices"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token is a paho token with a fixed result.
type Token struct {
	done chan struct{}
	err  error
}

// DoneToken returns a completed token carrying err.
func DoneToken(err error) *Token {
	t := &Token{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// PendingToken returns a token that never completes.
func PendingToken() *Token {
	return &Token{done: make(chan struct{})}
}

func (t *Token) Wait() bool {
	<-t.done
	return true
}

func (t *Token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *Token) Done() <-chan struct{} { return t.done }
func (t *Token) Error() error          { return t.err }

// Message is an inbound or published message.
type Message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func (m Message) Duplicate() bool   { return false }
func (m Message) Qos() byte         { return m.qos }
func (m Message) Retained() bool    { return m.retained }
func (m Message) Topic() string     { return m.topic }
func (m Message) MessageID() uint16 { return 0 }
func (m Message) Payload() []byte   { return m.payload }
func (m Message) Ack()              {}

// Broker hands out Clients and scripts their results.
type Broker struct {
	mu           sync.Mutex
	connectErrs  []error
	hangConnect  bool
	publishErr   error
	subscribeErr error
	clients      []*Client
	attempts     []time.Time
}

// NewBroker returns a broker that accepts every connection.
func NewBroker() *Broker {
	return &Broker{}
}

// FailConnects makes the next len(errs) connection attempts fail in order.
func (b *Broker) FailConnects(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErrs = append(b.connectErrs, errs...)
}

// HangConnects makes connection attempts never complete.
func (b *Broker) HangConnects(hang bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hangConnect = hang
}

// FailPublishes makes every publish fail with err (nil restores success).
func (b *Broker) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// FailSubscribes makes every subscribe fail with err (nil restores success).
func (b *Broker) FailSubscribes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribeErr = err
}

// NewClient is an mqtt.ClientFactory.
func (b *Broker) NewClient(opts *pahomqtt.ClientOptions) pahomqtt.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &Client{broker: b, opts: opts, subs: make(map[string]pahomqtt.MessageHandler)}
	b.clients = append(b.clients, c)
	return c
}

// Client returns the i-th client created, or nil.
func (b *Broker) Client(i int) *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.clients) {
		return nil
	}
	return b.clients[i]
}

// Last returns the most recent client, or nil.
func (b *Broker) Last() *Client {
	return b.Client(b.ClientCount() - 1)
}

// ClientCount returns how many clients were created.
func (b *Broker) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Attempts returns the time of every Connect call.
func (b *Broker) Attempts() []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.attempts)
}

// Client is a fake pahomqtt.Client.
type Client struct {
	broker *Broker
	opts   *pahomqtt.ClientOptions

	mu          sync.Mutex
	connected   bool
	subs        map[string]pahomqtt.MessageHandler
	subCalls    int
	published   []Message
	disconnects int
}

// Options returns the options the client was built with.
func (c *Client) Options() *pahomqtt.ClientOptions { return c.opts }

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() pahomqtt.Token {
	b := c.broker
	b.mu.Lock()
	b.attempts = append(b.attempts, time.Now())
	hang := b.hangConnect
	var err error
	if len(b.connectErrs) > 0 {
		err = b.connectErrs[0]
		b.connectErrs = b.connectErrs[1:]
	}
	b.mu.Unlock()

	if hang {
		return PendingToken()
	}
	if err == nil {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
	}
	return DoneToken(err)
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.broker.mu.Lock()
	err := c.broker.publishErr
	c.broker.mu.Unlock()

	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.published = append(c.published, Message{topic: topic, payload: body, qos: qos, retained: retained})
	}
	return DoneToken(err)
}

func (c *Client) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	c.broker.mu.Lock()
	err := c.broker.subscribeErr
	c.broker.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.subCalls++
	if err == nil {
		c.subs[topic] = cb
	}
	return DoneToken(err)
}

func (c *Client) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	panic("not implemented")
}

func (c *Client) Unsubscribe(...string) pahomqtt.Token        { panic("not implemented") }
func (c *Client) AddRoute(string, pahomqtt.MessageHandler)    { panic("not implemented") }
func (c *Client) OptionsReader() pahomqtt.ClientOptionsReader { panic("not implemented") }

// Drop simulates the broker closing the link.
func (c *Client) Drop(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.opts.OnConnectionLost(c, err)
}

// Deliver routes an inbound message to the handler subscribed to topic.
// It reports false if nothing is subscribed.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	cb, ok := c.subs[topic]
	c.mu.Unlock()
	if ok {
		cb(c, Message{topic: topic, payload: payload})
	}
	return ok
}

// SubscribeCalls returns how many times Subscribe was called.
func (c *Client) SubscribeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subCalls
}

// Subscriptions returns the successfully subscribed topics, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Published returns every accepted publish.
func (c *Client) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.published)
}

// Disconnects returns how many times Disconnect was called.
func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}
