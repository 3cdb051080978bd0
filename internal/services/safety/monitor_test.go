package safety

import (
	"reflect"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
)

var t0 = time.Unix(10_000, 0)

func zones(active ...entities.ZoneID) []entities.Zone {
	out := make([]entities.Zone, 4)
	for i := range out {
		out[i].ID = entities.ZoneID(i)
	}
	for _, id := range active {
		out[id].Active = true
		out[id].StartTime = t0
		out[id].RequestedDuration = time.Hour
	}
	return out
}

func snap(flow, pressure float64, rain bool) entities.SensorSnapshot {
	return entities.SensorSnapshot{Timestamp: t0.Add(time.Minute), FlowRate: flow, Pressure: pressure, IsRaining: rain}
}

func TestEvaluate(t *testing.T) {
	m := NewMonitor(DefaultConfig())
	tests := []struct {
		name  string
		snap  entities.SensorSnapshot
		zones []entities.Zone
		want  map[entities.ZoneID][]Reason
	}{
		{"healthy", snap(3, 2, false), zones(0, 2), map[entities.ZoneID][]Reason{}},
		{"idle zones ignored", snap(0, 99, true), zones(), map[entities.ZoneID][]Reason{}},
		{"rain stops every active zone", snap(3, 2, true), zones(1, 3), map[entities.ZoneID][]Reason{
			1: {ReasonRain}, 3: {ReasonRain},
		}},
		{"no flow", snap(0.05, 2, false), zones(0, 1), map[entities.ZoneID][]Reason{
			0: {ReasonFlowFault}, 1: {ReasonFlowFault},
		}},
		{"flow exactly at threshold is fine", snap(DefaultFlowMin, 2, false), zones(0), map[entities.ZoneID][]Reason{}},
		{"over pressure", snap(3, 10.5, false), zones(2), map[entities.ZoneID][]Reason{2: {ReasonOverPressure}}},
		{"all reasons captured", snap(0, 11, true), zones(0), map[entities.ZoneID][]Reason{
			0: {ReasonRain, ReasonFlowFault, ReasonOverPressure},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Evaluate(tt.snap, tt.zones)
			if !reflect.DeepEqual(got.Stops, tt.want) {
				t.Errorf("Evaluate() = %v, want %v", got.Stops, tt.want)
			}
		})
	}
}

func TestMessagePrecedence(t *testing.T) {
	d := Decision{Stops: map[entities.ZoneID][]Reason{
		0: {ReasonOverPressure, ReasonFlowFault},
		1: {ReasonOverPressure, ReasonRain},
		2: {ReasonOverPressure},
	}}
	tests := []struct {
		zone entities.ZoneID
		want string
	}{
		{0, "No flow detected"},
		{1, "Stopped due to rain"},
		{2, "Pressure too high"},
		{3, ""},
	}
	for _, tt := range tests {
		if got := d.Message(tt.zone); got != tt.want {
			t.Errorf("Message(%d) = %q, want %q", tt.zone, got, tt.want)
		}
	}
	if got := d.Zones(); !reflect.DeepEqual(got, []entities.ZoneID{0, 1, 2}) {
		t.Errorf("Zones() = %v", got)
	}
	if got := d.Forced()[1]; got != "Stopped due to rain" {
		t.Errorf("Forced()[1] = %q", got)
	}
}

func TestFlowGrace(t *testing.T) {
	m := NewMonitor(Config{FlowGrace: 10 * time.Second})
	z := zones(0)

	early := entities.SensorSnapshot{Timestamp: t0.Add(5 * time.Second), FlowRate: 0}
	if d := m.Evaluate(early, z); !d.Empty() {
		t.Errorf("zone inside grace stopped: %v", d.Stops)
	}
	late := entities.SensorSnapshot{Timestamp: t0.Add(10 * time.Second), FlowRate: 0}
	if d := m.Evaluate(late, z); d.Primary(0) != ReasonFlowFault {
		t.Errorf("zone past grace not stopped: %v", d.Stops)
	}
	// rain ignores the grace window
	early.IsRaining = true
	if d := m.Evaluate(early, z); d.Primary(0) != ReasonRain {
		t.Errorf("rain inside grace not stopped: %v", d.Stops)
	}
}

// One meter feeds the whole line: a zone opened moments ago is stopped too
// once an older zone proves there is no flow.
func TestFlowGraceMultiZone(t *testing.T) {
	m := NewMonitor(Config{FlowGrace: 10 * time.Second})
	now := t0.Add(time.Minute)
	z := zones(0, 1)
	z[0].StartTime = now.Add(-60 * time.Second)
	z[1].StartTime = now.Add(-2 * time.Second)

	d := m.Evaluate(entities.SensorSnapshot{Timestamp: now, FlowRate: 0}, z)
	want := map[entities.ZoneID][]Reason{0: {ReasonFlowFault}, 1: {ReasonFlowFault}}
	if !d.FlowFault() || !reflect.DeepEqual(d.Stops, want) {
		t.Fatalf("Evaluate() = %v (flowFault=%v), want %v", d.Stops, d.FlowFault(), want)
	}

	// both inside the grace window: nothing to judge yet
	z[0].StartTime = now.Add(-3 * time.Second)
	if d := m.Evaluate(entities.SensorSnapshot{Timestamp: now, FlowRate: 0}, z); !d.Empty() || d.FlowFault() {
		t.Errorf("zones inside grace stopped: %v", d.Stops)
	}
}

func TestApplyFlags(t *testing.T) {
	var es entities.ErrorState
	owner, _ := es.Owner(entities.FlagFlowFault)
	m := NewMonitor(DefaultConfig())

	m.Evaluate(snap(0, 1, false), zones(0)).ApplyFlags(owner)
	if !es.Flags().Has(entities.FlagFlowFault) {
		t.Fatalf("FLOW_FAULT not set")
	}
	// no active zone: nothing proves recovery, flag stays
	m.Evaluate(snap(0, 1, false), zones()).ApplyFlags(owner)
	if !es.Flags().Has(entities.FlagFlowFault) {
		t.Errorf("FLOW_FAULT cleared without recovery")
	}
	m.Evaluate(snap(4, 1, false), zones(1)).ApplyFlags(owner)
	if es.Flags().Has(entities.FlagFlowFault) {
		t.Errorf("FLOW_FAULT not cleared after flow recovered")
	}
}
