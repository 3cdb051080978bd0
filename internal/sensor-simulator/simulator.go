// Package sensor_simulator runs the node without hardware: a sensor-bus device,
// a flow meter feeding the pulse counter, the relay board and the env inputs.
package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/telemetry"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/pulse"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/rabbitmq"
)

type Config struct {
	Probes              []telemetry.Probe
	PulsesPerLiter      float64
	LitersPerMinPerZone float64
	// HalfLife della moisture a valvole chiuse.
	HalfLife    time.Duration
	Latitude    float64
	Longitude   float64
	MeterPeriod time.Duration
}

type SensorSimulator struct {
	Generator *DataGenerator
	Device    *Device
	Flow      *FlowMeter
	Valves    *Valves
	Pulses    *pulse.Counter

	cfg Config
}

func New(cfg Config) *SensorSimulator {
	if cfg.PulsesPerLiter <= 0 {
		cfg.PulsesPerLiter = telemetry.DefaultPulsesPerLiter
	}
	if cfg.LitersPerMinPerZone <= 0 {
		cfg.LitersPerMinPerZone = 5.0
	}
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = 2 * time.Hour
	}
	if cfg.MeterPeriod <= 0 {
		cfg.MeterPeriod = 100 * time.Millisecond
	}
	decay := math.Log(2) / cfg.HalfLife.Minutes() * defaultSeed
	gen := NewDataGenerator(decay, nil)
	counter := &pulse.Counter{}
	return &SensorSimulator{
		Generator: gen,
		Device:    NewDevice(gen, cfg.Probes),
		Flow:      NewFlowMeter(counter, gen, cfg.PulsesPerLiter, cfg.LitersPerMinPerZone),
		Valves:    NewValves(gen),
		Pulses:    counter,
		cfg:       cfg,
	}
}

// ReadEnv implements telemetry.EnvSource.
func (s *SensorSimulator) ReadEnv(context.Context) (telemetry.EnvReading, error) {
	return s.Generator.Env(), nil
}

// Start seeds the soil model (best effort) and runs the flow meter until ctx is done.
func (s *SensorSimulator) Start(ctx context.Context) {
	if s.cfg.Latitude != 0 || s.cfg.Longitude != 0 {
		seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.Generator.SeedFromSoilGrids(seedCtx, s.cfg.Latitude, s.cfg.Longitude); err != nil {
			log.Printf("sim: soilgrids seed failed, using default: %v", err)
		}
		cancel()
	}
	go s.Flow.Run(ctx, s.cfg.MeterPeriod)
}

// FollowBroker mirrors the valve state from the StateChange events the node
// publishes, as a relay node on the broker would. Blocks until ctx is done.
func (s *SensorSimulator) FollowBroker(ctx context.Context, client mqtt.Client, stateTopicTemplate, deviceID string) {
	topic := strings.NewReplacer("{device}", deviceID, "{zone}", "+").Replace(stateTopicTemplate)
	rabbitmq.NewConsumer(client, topic, s.Valves.HandleStateChange).ConsumeMessage(ctx)
}

// PublishIO plays the IO board for a node reading the bus over the bridge:
// every period it publishes the meter pulses and the env inputs on topic.
// Blocks until ctx is done.
func (s *SensorSimulator) PublishIO(ctx context.Context, client mqtt.Client, topic string, period time.Duration) {
	if period <= 0 {
		period = time.Second
	}
	pub := rabbitmq.NewPublisher(client, topic)
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := s.publishIO(ctx, pub); err != nil {
			log.Printf("sim: io frame: %v", err)
		}
	}
}

func (s *SensorSimulator) publishIO(ctx context.Context, pub rabbitmq.IPublisher) error {
	env := s.Generator.Env()
	raining := env.Raining
	f := messages.IOFrame{
		Pulses:    s.Pulses.TakeAndReset(),
		Raining:   &raining,
		Values:    make(map[string]float64, len(env.Values)),
		Timestamp: time.Now(),
	}
	for k, v := range env.Values {
		f.Values[string(k)] = v
	}
	b, err := json.Marshal(f)
	if err != nil {
		s.Pulses.Add(f.Pulses)
		return fmt.Errorf("marshal: %w", err)
	}
	if err := pub.PublishMessageCtx(ctx, 0, false, b); err != nil {
		// i pulsi non pubblicati restano per il frame successivo
		s.Pulses.Add(f.Pulses)
		return err
	}
	return nil
}
