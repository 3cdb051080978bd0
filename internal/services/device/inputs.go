package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"maps"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/telemetry"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/pulse"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/rabbitmq"
)

const DefaultIOTemplate = "device/{device}/io"

var (
	ErrNoIOFrame  = errors.New("no io frame received yet")
	ErrStaleInput = errors.New("io inputs stale")
)

// IOTopic expands the io topic template for deviceID.
func IOTopic(template, deviceID string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultIOTemplate
	}
	return strings.ReplaceAll(template, "{device}", deviceID)
}

// IOInputs is the flow meter and the env inputs of a node whose GPIO lives
// on a separate IO board. It implements telemetry.PulseSource and
// telemetry.EnvSource.
type IOInputs struct {
	consumer rabbitmq.IConsumer[messages.IOFrame]
	pulses   pulse.Counter
	maxAge   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	values  map[telemetry.Field]float64
	raining bool
	lastAt  time.Time
}

// NewIOInputs subscribes to topic once Run is called. Env readings older than
// maxAge are reported as stale.
func NewIOInputs(client mqtt.Client, topic string, maxAge time.Duration) *IOInputs {
	in := &IOInputs{maxAge: maxAge, now: time.Now, values: map[telemetry.Field]float64{}}
	in.consumer = rabbitmq.NewConsumer(client, topic, in.handle)
	return in
}

// Run blocks until ctx is cancelled.
func (in *IOInputs) Run(ctx context.Context) {
	in.consumer.ConsumeMessage(ctx)
}

func (in *IOInputs) handle(topic string, msg mqtt.Message) error {
	var f messages.IOFrame
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		return fmt.Errorf("%s: decode io frame: %w", topic, err)
	}
	in.pulses.Add(f.Pulses)

	in.mu.Lock()
	defer in.mu.Unlock()
	for k, v := range f.Values {
		field := telemetry.Field(k)
		if !telemetry.KnownField(field) {
			log.Printf("io: %s: unknown field %q ignored", topic, k)
			continue
		}
		in.values[field] = v
	}
	if f.Raining != nil {
		in.raining = *f.Raining
	}
	in.lastAt = in.now()
	return nil
}

// TakeAndReset returns the pulses received since the previous call.
func (in *IOInputs) TakeAndReset() uint64 { return in.pulses.TakeAndReset() }

// ReadEnv returns the latest inputs; fields missing from a frame keep their previous value.
func (in *IOInputs) ReadEnv(context.Context) (telemetry.EnvReading, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.lastAt.IsZero() {
		return telemetry.EnvReading{}, ErrNoIOFrame
	}
	if age := in.now().Sub(in.lastAt); in.maxAge > 0 && age > in.maxAge {
		return telemetry.EnvReading{}, fmt.Errorf("%w: last frame %s ago", ErrStaleInput, age.Round(time.Second))
	}
	return telemetry.EnvReading{Values: maps.Clone(in.values), Raining: in.raining}, nil
}
