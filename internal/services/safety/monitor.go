// Package safety decides which active zones must be forced off for a snapshot.
package safety

import (
	"sort"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
)

// Reason is a forced-stop cause, listed in reporting precedence.
type Reason string

const (
	ReasonRain         Reason = "rain"
	ReasonFlowFault    Reason = "flow_fault"
	ReasonOverPressure Reason = "over_pressure"
)

var precedence = map[Reason]int{ReasonRain: 0, ReasonFlowFault: 1, ReasonOverPressure: 2}

func (r Reason) Message() string {
	switch r {
	case ReasonRain:
		return "Stopped due to rain"
	case ReasonFlowFault:
		return "No flow detected"
	case ReasonOverPressure:
		return "Pressure too high"
	}
	return string(r)
}

const (
	DefaultFlowMin     = 0.1  // L/min
	DefaultPressureMax = 10.0 // bar
)

type Config struct {
	FlowMin     float64
	PressureMax float64
	// FlowGrace: il controllo di flusso parte quando almeno una zona è aperta da
	// FlowGrace (il contatore deve prima vedere un ciclo intero). 0 = nessuna grazia.
	FlowGrace time.Duration
}

func DefaultConfig() Config {
	return Config{FlowMin: DefaultFlowMin, PressureMax: DefaultPressureMax}
}

// Monitor has no state; Evaluate is a pure function of its inputs.
type Monitor struct {
	cfg Config
}

func NewMonitor(cfg Config) Monitor {
	if cfg.FlowMin <= 0 {
		cfg.FlowMin = DefaultFlowMin
	}
	if cfg.PressureMax <= 0 {
		cfg.PressureMax = DefaultPressureMax
	}
	return Monitor{cfg: cfg}
}

func (m Monitor) Config() Config { return m.cfg }

// Evaluate returns, for every active zone, all reasons that force it off.
// The snapshot timestamp is the evaluation time for the flow grace window.
// There is one meter for the whole line: once any zone is past the grace
// window, low flow stops every active zone.
func (m Monitor) Evaluate(s entities.SensorSnapshot, zones []entities.Zone) Decision {
	d := Decision{Stops: map[entities.ZoneID][]Reason{}}
	checked := false
	for _, z := range zones {
		if z.Active && s.Timestamp.Sub(z.StartTime) >= m.cfg.FlowGrace {
			checked = true
			break
		}
	}
	if checked {
		if s.FlowRate < m.cfg.FlowMin {
			d.flowFault = true
		} else {
			d.flowOK = true
		}
	}
	for _, z := range zones {
		if !z.Active {
			continue
		}
		var reasons []Reason
		if s.IsRaining {
			reasons = append(reasons, ReasonRain)
		}
		if d.flowFault {
			reasons = append(reasons, ReasonFlowFault)
		}
		if s.Pressure > m.cfg.PressureMax {
			reasons = append(reasons, ReasonOverPressure)
		}
		if len(reasons) > 0 {
			d.Stops[z.ID] = reasons
		}
	}
	return d
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Stops     map[entities.ZoneID][]Reason
	flowFault bool
	flowOK    bool
}

func (d Decision) Empty() bool { return len(d.Stops) == 0 }

// Primary returns the highest-precedence reason for zone, "" when it is not stopped.
func (d Decision) Primary(zone entities.ZoneID) Reason {
	rs := d.Stops[zone]
	if len(rs) == 0 {
		return ""
	}
	best := rs[0]
	for _, r := range rs[1:] {
		if precedence[r] < precedence[best] {
			best = r
		}
	}
	return best
}

func (d Decision) Message(zone entities.ZoneID) string { return d.Primary(zone).Message() }

// Forced maps each stopped zone to its report message, as consumed by the scheduler tick.
func (d Decision) Forced() map[entities.ZoneID]string {
	out := make(map[entities.ZoneID]string, len(d.Stops))
	for z := range d.Stops {
		out[z] = d.Message(z)
	}
	return out
}

// Zones returns the stopped zone ids in ascending order.
func (d Decision) Zones() []entities.ZoneID {
	out := make([]entities.ZoneID, 0, len(d.Stops))
	for z := range d.Stops {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FlowFault reports whether the flow check fired for any zone.
func (d Decision) FlowFault() bool { return d.flowFault }

// ApplyFlags sets FLOW_FAULT when the flow check fired and clears it once an
// active zone shows measurable flow again.
func (d Decision) ApplyFlags(flow entities.FlagOwner) {
	switch {
	case d.flowFault:
		flow.Set(entities.FlagFlowFault)
	case d.flowOK:
		flow.Clear(entities.FlagFlowFault)
	}
}
