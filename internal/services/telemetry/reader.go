package telemetry

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/calibration"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/metrics"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/pulse"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/sensorbus"
)

// Exchanger is the bus transaction used by the reader (sensorbus.Bus).
type Exchanger interface {
	Exchange(ctx context.Context, address, command byte) (float64, error)
}

// PulseSource is the flow-meter counter (pulse.Counter).
type PulseSource interface {
	TakeAndReset() uint64
}

// EnvReading carries the non-bus inputs: rain switch, DHT, pressure, anemometer.
type EnvReading struct {
	Values  map[Field]float64
	Raining bool
}

// EnvSource reads the digital/analog inputs wired next to the bus.
type EnvSource interface {
	ReadEnv(ctx context.Context) (EnvReading, error)
}

// Reader drives one read cycle: every probe over the bus, the env inputs, then the flow meter.
type Reader struct {
	bus         Exchanger
	probes      []Probe
	env         EnvSource
	pulses      PulseSource
	cal         calibration.Calibration
	agg         *Aggregator
	timeoutFlag entities.FlagOwner

	lastFlow time.Time
	interval time.Duration
}

// NewReader wires the reader; interval is the nominal cycle period used for the first flow sample.
func NewReader(bus Exchanger, probes []Probe, env EnvSource, pulses PulseSource, cal calibration.Calibration,
	agg *Aggregator, timeoutFlag entities.FlagOwner, interval time.Duration) *Reader {
	if len(probes) == 0 {
		probes = DefaultProbes()
	}
	if c, ok := pulses.(*pulse.Counter); ok && c == nil {
		pulses = nil
	}
	return &Reader{
		bus:         bus,
		probes:      probes,
		env:         env,
		pulses:      pulses,
		cal:         cal,
		agg:         agg,
		timeoutFlag: timeoutFlag,
		interval:    interval,
	}
}

// ReadCycle never aborts: a failed probe leaves its field at the previous value.
// SENSOR_TIMEOUT is set when any exchange timed out and cleared by a cycle without timeouts.
func (r *Reader) ReadCycle(ctx context.Context, now time.Time) entities.SensorSnapshot {
	r.agg.BeginCycle()

	timeouts := 0
	for _, p := range r.probes {
		v, err := r.bus.Exchange(ctx, p.Address, p.Command)
		if err != nil {
			r.agg.RecordError(p.Field, err)
			result := metrics.ResultError
			if errors.Is(err, sensorbus.ErrTimeout) {
				timeouts++
				result = metrics.ResultTimeout
			}
			metrics.ObserveBusExchange(string(p.Field), result)
			log.Printf("telemetry: %s read failed: %v", p.Field, err)
			continue
		}
		metrics.ObserveBusExchange(string(p.Field), metrics.ResultSuccess)
		if err := r.agg.Record(p.Field, r.cal.Apply(string(p.Field), v)); err != nil {
			log.Printf("telemetry: %v", err)
		}
	}
	r.timeoutFlag.Update(entities.FlagSensorTimeout, timeouts > 0)

	if r.env != nil {
		env, err := r.env.ReadEnv(ctx)
		if err != nil {
			log.Printf("telemetry: env inputs: %v", err)
		} else {
			for f, v := range env.Values {
				if err := r.agg.Record(f, r.cal.Apply(string(f), v)); err != nil {
					log.Printf("telemetry: env: %v", err)
				}
			}
			r.agg.RecordRain(env.Raining)
		}
	}

	interval := r.interval
	if !r.lastFlow.IsZero() {
		interval = now.Sub(r.lastFlow)
	}
	r.lastFlow = now
	var n uint64
	if r.pulses != nil {
		n = r.pulses.TakeAndReset()
	}
	r.agg.IntegrateFlow(n, interval)

	snap := r.agg.Finalize(now)
	metrics.SetFlow(snap.FlowRate, snap.CumulativeWaterUsed)
	return snap
}
