// Package device drives the valve outputs and listens for mode changes on the broker.
package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/scheduler"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/rabbitmq"
)

const DefaultStateChangeTemplate = "event/StateChange/{device}/{zone}"

type PublisherFactory func(topic string) rabbitmq.IPublisher

// MQTTValves publishes a StateChangeEvent (QoS1) per valve transition; the relay
// node subscribed to the topic switches the output.
type MQTTValves struct {
	makePublisher PublisherFactory
	deviceID      string
	topicTemplate string
}

func NewMQTTValves(factory PublisherFactory, deviceID, topicTemplate string) *MQTTValves {
	if strings.TrimSpace(topicTemplate) == "" {
		topicTemplate = DefaultStateChangeTemplate
	}
	return &MQTTValves{makePublisher: factory, deviceID: deviceID, topicTemplate: topicTemplate}
}

func (v *MQTTValves) Topic(zone model.ZoneID) string {
	return strings.NewReplacer("{device}", v.deviceID, "{zone}", strconv.Itoa(zone.WireID())).
		Replace(v.topicTemplate)
}

// SetValve waits for the broker ack no longer than ctx allows.
func (v *MQTTValves) SetValve(ctx context.Context, c scheduler.ValveChange) error {
	state := model.StateOff
	if c.Open {
		state = model.StateOn
	}
	evt := model.StateChangeEvent{
		DeviceID:  v.deviceID,
		ZoneID:    c.Zone.WireID(),
		NewState:  state,
		Duration:  c.Duration,
		Reason:    c.Reason,
		Timestamp: c.At,
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal state change: %w", err)
	}
	topic := v.Topic(c.Zone)
	if err := v.makePublisher(topic).PublishMessageCtx(ctx, 1, false, string(b)); err != nil {
		return fmt.Errorf("valve %d %s: %w", c.Zone.WireID(), state, err)
	}
	return nil
}

// LogValves only logs; used when no relay output is configured.
type LogValves struct{}

func (LogValves) SetValve(_ context.Context, c scheduler.ValveChange) error {
	state := model.StateOff
	if c.Open {
		state = model.StateOn
	}
	log.Printf("valve %d -> %s (duration=%s reason=%q)", c.Zone.WireID(), state, c.Duration, c.Reason)
	return nil
}

// Fanout actuates every output in order and joins the errors.
type Fanout []scheduler.Actuator

func (f Fanout) SetValve(ctx context.Context, c scheduler.ValveChange) error {
	var errs []error
	for _, a := range f {
		if err := a.SetValve(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
