package sensor_simulator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/scheduler"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/dedup"
)

// relayGrace: il relè si richiude da solo se l'OFF non arriva entro durata+grace.
const relayGrace = 5 * time.Second

// Valves is the simulated relay board. It can be driven directly as a
// scheduler.Actuator or from StateChange messages on the broker.
type Valves struct {
	mu      sync.Mutex
	gen     *DataGenerator
	open    map[int]bool
	timers  map[int]*time.Timer
	deduper *dedup.Deduper
	fail    error
}

func NewValves(gen *DataGenerator) *Valves {
	return &Valves{
		gen:     gen,
		open:    map[int]bool{},
		timers:  map[int]*time.Timer{},
		deduper: dedup.New(2*time.Minute, 10000),
	}
}

// SetFailure makes every actuation fail with err (nil restores).
func (v *Valves) SetFailure(err error) {
	v.mu.Lock()
	v.fail = err
	v.mu.Unlock()
}

func (v *Valves) IsOpen(wireZone int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open[wireZone]
}

func (v *Valves) SetValve(_ context.Context, c scheduler.ValveChange) error {
	v.mu.Lock()
	fail := v.fail
	v.mu.Unlock()
	if fail != nil {
		return fmt.Errorf("sim relay %d: %w", c.Zone.WireID(), fail)
	}
	v.apply(c.Zone.WireID(), c.Open, c.Duration)
	return nil
}

// HandleStateChange consumes event/StateChange/{device}/{zone}.
func (v *Valves) HandleStateChange(_ string, msg mqtt.Message) error {
	// redelivery QoS1 ha lo stesso payload
	h := sha256.Sum256(msg.Payload())
	if !v.deduper.ShouldProcess(hex.EncodeToString(h[:])) {
		return nil
	}
	var evt model.StateChangeEvent
	if err := json.Unmarshal(msg.Payload(), &evt); err != nil {
		return fmt.Errorf("invalid StateChangeEvent: %w", err)
	}
	v.apply(evt.ZoneID, evt.NewState == model.StateOn, evt.Duration)
	return nil
}

func (v *Valves) apply(zone int, open bool, d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if t := v.timers[zone]; t != nil {
		t.Stop()
		delete(v.timers, zone)
	}
	v.open[zone] = open
	state := model.StateOff
	if open {
		state = model.StateOn
	}
	log.Printf("sim: relay %d -> %s (%s)", zone, state, d)
	if open {
		if d > 0 {
			v.timers[zone] = time.AfterFunc(d+relayGrace, func() {
				log.Printf("sim: relay %d timed out, closing", zone)
				v.apply(zone, false, 0)
			})
		}
	}
	v.gen.SetOpenZones(v.countOpen())
}

func (v *Valves) countOpen() int {
	n := 0
	for _, o := range v.open {
		if o {
			n++
		}
	}
	return n
}
