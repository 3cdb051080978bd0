package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/coordinator"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/event"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/safety"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/scheduler"
)

var t0 = time.Unix(1_700_000_000, 0)

type fakeReader struct {
	flow    float64
	raining bool
	reads   int
}

func (f *fakeReader) ReadCycle(_ context.Context, now time.Time) entities.SensorSnapshot {
	f.reads++
	return entities.SensorSnapshot{Timestamp: now, FlowRate: f.flow, IsRaining: f.raining, SoilMoisture: 40}
}

type sentReport struct {
	id     entities.CommandID
	status entities.CommandStatus
	msg    string
}

type fakeSync struct {
	inbound []coordinator.Inbound
	reports []sentReport
	pushes  []messages.TelemetryPush
}

func (f *fakeSync) Collect(time.Time) coordinator.Inbound {
	if len(f.inbound) == 0 {
		return coordinator.Inbound{}
	}
	in := f.inbound[0]
	f.inbound = f.inbound[1:]
	return in
}

func (f *fakeSync) Dispatch(_ context.Context, _ time.Time, body func() messages.TelemetryPush) {
	f.pushes = append(f.pushes, body())
}

func (f *fakeSync) Report(id entities.CommandID, status entities.CommandStatus, msg string) {
	f.reports = append(f.reports, sentReport{id, status, msg})
}

func (f *fakeSync) LastPush() time.Time { return time.Time{} }
func (f *fakeSync) LastPoll() time.Time { return time.Time{} }

type valves struct {
	changes []scheduler.ValveChange
}

func (v *valves) SetValve(_ context.Context, c scheduler.ValveChange) error {
	v.changes = append(v.changes, c)
	return nil
}

type events struct{ got []event.CommonEvent }

func (e *events) Emit(evt event.CommonEvent) { e.got = append(e.got, evt) }

func (e *events) count(typ string) int {
	n := 0
	for _, evt := range e.got {
		if evt.EventType == typ {
			n++
		}
	}
	return n
}

type brokenDisplay struct{ err error }

func (b brokenDisplay) Render(model.StatusView) error { return b.err }

type harness struct {
	d      *Driver
	reader *fakeReader
	sync   *fakeSync
	valves *valves
	events *events
	errs   *entities.ErrorState
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{reader: &fakeReader{}, sync: &fakeSync{}, valves: &valves{}, events: &events{}, errs: &entities.ErrorState{}}
	valveFlag, err := h.errs.Owner(entities.FlagValveFeedback)
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewDriver(Config{DeviceID: "node-1", TickPeriod: time.Second, SensorInterval: time.Second}, Deps{
		Reader:    h.reader,
		Scheduler: scheduler.New(4, h.valves, valveFlag),
		Planner:   scheduler.NewPlanner(),
		Monitor:   safety.NewMonitor(safety.Config{FlowMin: 0.1, PressureMax: 10, FlowGrace: 10 * time.Second}),
		Sync:      h.sync,
		Events:    h.events,
		Errors:    h.errs,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.d = d
	return h
}

func remoteStart(id string, wireZone int, d time.Duration) entities.Command {
	return entities.Command{
		ID:       entities.CommandID(id),
		Type:     entities.CommandStart,
		ZoneID:   entities.ZoneFromWire(wireZone),
		Duration: d,
		Origin:   entities.OriginRemote,
		Status:   entities.StatusPending,
	}
}

func TestDriver_FlowFaultStopsZone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.d.RequestMode(entities.ModePilot)
	h.sync.inbound = []coordinator.Inbound{{Commands: []entities.Command{remoteStart("c1", 1, 60*time.Second)}}}
	h.reader.flow = 5.0

	for s := 0; s <= 30; s++ {
		h.d.Tick(ctx, t0.Add(time.Duration(s)*time.Second))
	}
	v, ok := h.d.Status()
	if !ok || !v.Zones[0].Active {
		t.Fatalf("zone 1 not active at t=30s: %+v", v.Zones)
	}
	if h.errs.Flags().Has(entities.FlagFlowFault) {
		t.Fatalf("flags = %s at t=30s", h.errs.Flags())
	}

	h.reader.flow = 0.0
	h.d.Tick(ctx, t0.Add(31*time.Second))

	v, _ = h.d.Status()
	if v.Zones[0].Active {
		t.Fatal("zone 1 still active after flow loss")
	}
	if !h.errs.Flags().Has(entities.FlagFlowFault) || v.Errors&uint8(entities.FlagFlowFault) == 0 {
		t.Fatalf("flags = %s, view errors = 0x%02X, want FLOW_FAULT", h.errs.Flags(), v.Errors)
	}
	if v.Zones[0].LastReason != "No flow detected" {
		t.Fatalf("LastReason = %q", v.Zones[0].LastReason)
	}

	want := []sentReport{
		{"c1", entities.StatusExecuted, ""},
		{"c1", entities.StatusFailed, "No flow detected"},
	}
	if len(h.sync.reports) != len(want) {
		t.Fatalf("reports = %+v", h.sync.reports)
	}
	for i := range want {
		if h.sync.reports[i] != want[i] {
			t.Fatalf("report[%d] = %+v, want %+v", i, h.sync.reports[i], want[i])
		}
	}
	if len(h.valves.changes) != 2 || !h.valves.changes[0].Open || h.valves.changes[1].Open {
		t.Fatalf("valve changes = %+v, want open then close", h.valves.changes)
	}
	if h.events.count(event.TypeForcedStop) != 1 {
		t.Fatalf("forced stop events = %d", h.events.count(event.TypeForcedStop))
	}
}

func TestDriver_ExpiryReportsCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.d.RequestMode(entities.ModePilot)
	h.sync.inbound = []coordinator.Inbound{{Commands: []entities.Command{remoteStart("c2", 2, 3*time.Second)}}}
	h.reader.flow = 5.0

	for s := 0; s <= 3; s++ {
		h.d.Tick(ctx, t0.Add(time.Duration(s)*time.Second))
	}
	last := h.sync.reports[len(h.sync.reports)-1]
	if last.id != "c2" || last.status != entities.StatusCompleted {
		t.Fatalf("last report = %+v, want c2 COMPLETED", last)
	}
	if v, _ := h.d.Status(); v.Zones[1].Active {
		t.Fatal("zone 2 still active after expiry")
	}
}

func TestDriver_RejectedAndModeGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// AUTO: un comando remoto viene rifiutato dal gate
	h.sync.inbound = []coordinator.Inbound{{
		Commands: []entities.Command{remoteStart("c3", 1, time.Minute)},
		Rejected: []coordinator.Rejected{{ID: "bad", Reason: "malformed command"}},
	}}
	h.d.Tick(ctx, t0)

	if len(h.sync.reports) != 2 {
		t.Fatalf("reports = %+v", h.sync.reports)
	}
	if r := h.sync.reports[0]; r.id != "bad" || r.status != entities.StatusFailed {
		t.Fatalf("report[0] = %+v", r)
	}
	if r := h.sync.reports[1]; r.id != "c3" || r.status != entities.StatusFailed {
		t.Fatalf("report[1] = %+v", r)
	}
	if len(h.valves.changes) != 0 {
		t.Fatalf("valves moved: %+v", h.valves.changes)
	}
}

func TestDriver_ScheduleAppliedOnlyInAuto(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.reader.flow = 5.0
	entries := []messages.ScheduleEntry{{ZoneID: 3, DurationMinutes: 1}}

	h.sync.inbound = []coordinator.Inbound{{Schedule: entries}}
	h.d.Tick(ctx, t0)
	if v, _ := h.d.Status(); !v.Zones[2].Active {
		t.Fatal("planned zone 3 not started in AUTO")
	}
	// i comandi del planner non vengono riportati al coordinator
	if len(h.sync.reports) != 0 {
		t.Fatalf("reports = %+v", h.sync.reports)
	}

	h.d.RequestMode(entities.ModePilot)
	h.sync.inbound = []coordinator.Inbound{{Schedule: []messages.ScheduleEntry{{ZoneID: 4, DurationMinutes: 1}}}}
	h.d.Tick(ctx, t0.Add(time.Second))
	if v, _ := h.d.Status(); v.Zones[3].Active {
		t.Fatal("schedule applied in PILOT")
	}
	if h.events.count(event.TypeModeChange) != 1 {
		t.Fatalf("mode change events = %d", h.events.count(event.TypeModeChange))
	}
}

func TestDriver_SensorIntervalAndPush(t *testing.T) {
	h := newHarness(t)
	h.d.cfg.SensorInterval = 5 * time.Second
	ctx := context.Background()
	for s := 0; s < 10; s++ {
		h.d.Tick(ctx, t0.Add(time.Duration(s)*time.Second))
	}
	if h.reader.reads != 2 {
		t.Fatalf("reads = %d, want 2", h.reader.reads)
	}
	if len(h.sync.pushes) != 10 {
		t.Fatalf("dispatches = %d, want 10", len(h.sync.pushes))
	}
	p := h.sync.pushes[len(h.sync.pushes)-1]
	if p.DeviceID != "node-1" || p.Mode != string(entities.ModeAuto) || len(p.Zones) != 4 || p.Zones[0].ID != 1 {
		t.Fatalf("push body = %+v", p)
	}
}

func TestDriver_LinkAndDisplayFlags(t *testing.T) {
	h := newHarness(t)
	h.d.display = brokenDisplay{err: errors.New("i2c nack")}
	ctx := context.Background()

	h.d.SetLink(true)
	h.d.SetLink(false)
	h.d.Tick(ctx, t0)
	v, _ := h.d.Status()
	want := uint8(entities.FlagLink | entities.FlagDisplay)
	if v.Errors != want {
		t.Fatalf("errors = 0x%02X, want 0x%02X", v.Errors, want)
	}

	h.d.display = brokenDisplay{}
	h.d.SetLink(true)
	h.d.Tick(ctx, t0.Add(time.Second))
	if v, _ := h.d.Status(); v.Errors != 0 {
		t.Fatalf("errors = 0x%02X, want 0", v.Errors)
	}
}

func TestDriver_RunStopsZonesOnShutdown(t *testing.T) {
	h := newHarness(t)
	h.d.cfg.TickPeriod = 10 * time.Millisecond
	h.d.RequestMode(entities.ModePilot)
	h.sync.inbound = []coordinator.Inbound{{Commands: []entities.Command{remoteStart("c4", 1, time.Hour)}}}
	h.reader.flow = 5.0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if v, ok := h.d.Status(); ok && v.Zones[0].Active {
			break
		}
		select {
		case <-deadline:
			t.Fatal("zone never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}
	if v, _ := h.d.Status(); v.Zones[0].Active {
		t.Fatal("zone left open after shutdown")
	}
	if last := h.valves.changes[len(h.valves.changes)-1]; last.Open {
		t.Fatalf("last valve change = %+v, want close", last)
	}
}
