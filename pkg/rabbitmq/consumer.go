package rabbitmq

import (
	"context"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// IConsumer interface defines the ConsumeMessage method with dependencies T
type IConsumer[T any] interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler func(queue string, message mqtt.Message) error)
}

// Consumer holds the client and topic for subscribing to a topic
type Consumer struct {
	client  mqtt.Client
	handler func(queue string, message mqtt.Message) error
	topic   string
}

// NewConsumer creates a new Consumer instance using the shared MQTT client and topic
func NewConsumer(client mqtt.Client, topic string, handler func(queue string, message mqtt.Message) error) *Consumer {
	return &Consumer{
		client:  client,
		topic:   topic,
		handler: handler,
	}
}

func (c *Consumer) SetHandler(handler func(queue string, message mqtt.Message) error) {
	c.handler = handler
}

// QosFor: QoS1 per eventi di stato e richieste verso il device, 0 per il resto.
func QosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "event/StateChange") || strings.HasPrefix(t, "device/") {
		return 1
	}
	return 0
}

// ConsumeMessage subscribes to the topic and processes messages using the handler.
// It blocks until the context is cancelled.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	subscribe(ctx, c.client, []string{c.topic}, func() func(string, mqtt.Message) error { return c.handler })
}

// MultiConsumer subscribes one handler to several topics.
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	handler func(queue string, message mqtt.Message) error
}

func NewMultiConsumer(client mqtt.Client, topics []string, handler func(queue string, message mqtt.Message) error) *MultiConsumer {
	return &MultiConsumer{
		client:  client,
		topics:  topics,
		handler: handler,
	}
}

func (m *MultiConsumer) SetHandler(handler func(queue string, message mqtt.Message) error) {
	m.handler = handler
}

func (m *MultiConsumer) ConsumeMessage(ctx context.Context) {
	subscribe(ctx, m.client, m.topics, func() func(string, mqtt.Message) error { return m.handler })
}

func subscribe(ctx context.Context, client mqtt.Client, topics []string, handler func() func(string, mqtt.Message) error) {
	for _, topic := range topics {
		topic := topic
		token := client.Subscribe(topic, QosFor(topic), func(_ mqtt.Client, msg mqtt.Message) {
			h := handler()
			if h == nil {
				log.Printf("mqtt: no handler set for topic %s", topic)
				return
			}
			if err := h(topic, msg); err != nil {
				log.Printf("mqtt: error handling message on %s: %v", topic, err)
			}
		})
		if token.Wait() && token.Error() != nil {
			log.Printf("mqtt: error subscribing to topic %s: %v", topic, token.Error())
			continue
		}
		log.Printf("mqtt: subscribed to topic %s", topic)
	}

	<-ctx.Done()

	for _, topic := range topics {
		client.Unsubscribe(topic).WaitTimeout(time.Second)
	}
}
