package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eclipse/paho.mqtt.golang"
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// IPublisher interface defines the method to publish a message
type IPublisher interface {
	PublishMessage(message interface{}) error
	PublishMessageQos(qos byte, retained bool, message interface{}) error
	PublishMessageCtx(ctx context.Context, qos byte, retained bool, message interface{}) error
	Close()
}

// Publisher holds the client and topic for publishing messages
type Publisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

// NewPublisher creates a new Publisher instance using the shared MQTT client and topic
func NewPublisher(client mqtt.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic, timeout: 2 * time.Second}
}

// SetTimeout limita l'attesa dell'ack del broker (QoS1).
func (p *Publisher) SetTimeout(d time.Duration) {
	if d > 0 {
		p.timeout = d
	}
}

// PublishMessage publishes at QoS 0.
func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishMessageQos(0, false, message)
}

// PublishMessageQos accepts string or []byte payloads and waits at most the
// publisher timeout for the broker.
func (p *Publisher) PublishMessageQos(qos byte, retained bool, message interface{}) error {
	return p.PublishMessageCtx(context.Background(), qos, retained, message)
}

// PublishMessageCtx stops waiting for the broker at the earlier of the
// publisher timeout and ctx's deadline; the message may still go out later.
func (p *Publisher) PublishMessageCtx(ctx context.Context, qos byte, retained bool, message interface{}) error {
	switch message.(type) {
	case string, []byte:
	default:
		return fmt.Errorf("invalid message format, expected string or []byte")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", p.topic, err)
	}

	token := p.client.Publish(p.topic, qos, retained, message)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%s: %w: %w", p.topic, ErrPublishTimeout, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%s: %w", p.topic, ErrPublishTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message on %s: %w", p.topic, token.Error())
	}
	return nil
}

// Close is a no-op: the shared client is closed by its owner.
func (p *Publisher) Close() {}
