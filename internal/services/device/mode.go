package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/rabbitmq"
)

// ModeTopics: richieste per il singolo nodo e broadcast.
func ModeTopics(deviceID string) []string {
	return []string{"device/" + deviceID + "/mode", "device/all/mode"}
}

// ModeListener forwards mode requests from the broker to the control loop.
// The loop owns the mode; the listener never touches it.
type ModeListener struct {
	consumer rabbitmq.IConsumer[messages.ModeRequest]
	out      chan<- entities.Mode
}

func NewModeListener(client mqtt.Client, deviceID string, out chan<- entities.Mode) *ModeListener {
	l := &ModeListener{out: out}
	l.consumer = rabbitmq.NewMultiConsumer(client, ModeTopics(deviceID), l.handle)
	return l
}

// Run blocks until ctx is cancelled.
func (l *ModeListener) Run(ctx context.Context) {
	l.consumer.ConsumeMessage(ctx)
}

func (l *ModeListener) handle(topic string, msg mqtt.Message) error {
	mode, err := ParseModePayload(msg.Payload())
	if err != nil {
		return fmt.Errorf("%s: %w", topic, err)
	}
	select {
	case l.out <- mode:
		log.Printf("mode request %s from %s", mode, topic)
	default:
		log.Printf("mode request %s from %s dropped: loop busy", mode, topic)
	}
	return nil
}

// ParseModePayload accepts {"mode":"PILOT"} or a bare mode string.
func ParseModePayload(b []byte) (entities.Mode, error) {
	raw := strings.TrimSpace(string(b))
	if strings.HasPrefix(raw, "{") {
		var req messages.ModeRequest
		if err := json.Unmarshal(b, &req); err != nil {
			return "", fmt.Errorf("decode mode request: %w", err)
		}
		raw = req.Mode
	}
	return entities.ParseMode(strings.Trim(raw, `"`))
}
