package sensor_simulator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/pulse"
)

// FlowMeter genera impulsi sul contatore mentre almeno una valvola è aperta,
// come il sensore hall YF-S201 collegato all'interrupt.
type FlowMeter struct {
	counter        *pulse.Counter
	gen            *DataGenerator
	pulsesPerLiter float64
	litersPerZone  float64
	blocked        atomic.Bool
	carry          float64
}

func NewFlowMeter(counter *pulse.Counter, gen *DataGenerator, pulsesPerLiter, litersPerMinPerZone float64) *FlowMeter {
	return &FlowMeter{counter: counter, gen: gen, pulsesPerLiter: pulsesPerLiter, litersPerZone: litersPerMinPerZone}
}

// SetBlocked simula una tubazione ostruita: valvola aperta ma nessun impulso.
func (f *FlowMeter) SetBlocked(on bool) { f.blocked.Store(on) }

// Emit adds the pulses for dt of flow. Only the Run goroutine (or a test) calls it.
func (f *FlowMeter) Emit(dt time.Duration) {
	open := f.gen.OpenZones()
	if open == 0 || f.blocked.Load() {
		f.carry = 0
		return
	}
	f.carry += float64(open) * f.litersPerZone * f.pulsesPerLiter * dt.Minutes()
	whole := uint64(f.carry)
	f.carry -= float64(whole)
	f.counter.Add(whole)
}

// Run blocks until ctx is cancelled.
func (f *FlowMeter) Run(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.Emit(period)
		}
	}
}
