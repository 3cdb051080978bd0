// Package rabbitmqtest provides an in-memory mqtt.Client for tests.
package rabbitmqtest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Published struct {
	Topic    string
	Qos      byte
	Retained bool
	Payload  []byte
}

// Client records publications and delivers Deliver() calls to subscribers.
type Client struct {
	mu        sync.Mutex
	published []Published
	subs      map[string]mqtt.MessageHandler
	// PublishErr, se valorizzato, viene restituito da ogni Publish.
	PublishErr error
	// Stalled: il broker non conferma mai (token mai completato).
	Stalled bool
}

func NewClient() *Client { return &Client{subs: map[string]mqtt.MessageHandler{}} }

func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

// Deliver invokes the handler subscribed to exactly topic.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	h, ok := c.subs[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, &message{topic: topic, payload: payload})
	return true
}

func (c *Client) IsConnected() bool      { return true }
func (c *Client) IsConnectionOpen() bool { return true }
func (c *Client) Connect() mqtt.Token    { return done(nil) }
func (c *Client) Disconnect(uint)        {}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr != nil {
		return done(c.PublishErr)
	}
	if c.Stalled {
		return &token{ch: make(chan struct{})}
	}
	var b []byte
	switch p := payload.(type) {
	case string:
		b = []byte(p)
	case []byte:
		b = append([]byte(nil), p...)
	}
	c.published = append(c.published, Published{Topic: topic, Qos: qos, Retained: retained, Payload: b})
	return done(nil)
}

func (c *Client) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.subs[topic] = cb
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	for t, q := range filters {
		c.Subscribe(t, q, cb)
	}
	return done(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) AddRoute(string, mqtt.MessageHandler)    {}
func (c *Client) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

type token struct {
	err error
	ch  chan struct{}
}

func done(err error) *token {
	ch := make(chan struct{})
	close(ch)
	return &token{err: err, ch: ch}
}

func (t *token) Wait() bool {
	<-t.ch
	return true
}

func (t *token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.ch:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *token) Done() <-chan struct{} { return t.ch }
func (t *token) Error() error          { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 1 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 1 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
