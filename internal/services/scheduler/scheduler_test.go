package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
)

type recordingActuator struct {
	changes []ValveChange
	err     error
}

func (r *recordingActuator) SetValve(_ context.Context, c ValveChange) error {
	r.changes = append(r.changes, c)
	return r.err
}

var t0 = time.Unix(1_700_000_000, 0)

func newPilot(t *testing.T) (*Scheduler, *recordingActuator, *entities.ErrorState) {
	t.Helper()
	var es entities.ErrorState
	owner, err := es.Owner(entities.FlagValveFeedback)
	if err != nil {
		t.Fatal(err)
	}
	act := &recordingActuator{}
	s := New(4, act, owner)
	s.SetMode(entities.ModePilot)
	return s, act, &es
}

func start(id string, zone entities.ZoneID, d time.Duration) entities.Command {
	return entities.Command{ID: entities.CommandID(id), Type: entities.CommandStart, ZoneID: zone, Duration: d, Origin: entities.OriginRemote}
}

func stop(id string, zone entities.ZoneID) entities.Command {
	return entities.Command{ID: entities.CommandID(id), Type: entities.CommandStop, ZoneID: zone, Origin: entities.OriginRemote}
}

func TestStartThenExpireExactly(t *testing.T) {
	s, act, _ := newPilot(t)
	ctx := context.Background()
	const d = 60 * time.Second

	res := s.Apply(ctx, start("1", 1, d), t0)
	if res.Err != nil || res.Status != entities.StatusExecuted || res.Transition == nil || !res.Transition.Open {
		t.Fatalf("Apply(START) = %+v", res)
	}

	if trs := s.Tick(ctx, t0.Add(d-time.Millisecond), nil); len(trs) != 0 {
		t.Fatalf("zone stopped before T+D: %+v", trs)
	}
	if !s.Zones()[1].Active {
		t.Fatalf("zone 1 idle before T+D")
	}

	trs := s.Tick(ctx, t0.Add(d), nil)
	if len(trs) != 1 || trs[0].Status != entities.StatusCompleted || trs[0].Zone != 1 {
		t.Fatalf("Tick(T+D) = %+v, want one COMPLETED transition", trs)
	}
	if *trs[0].CommandID != "1" || !trs[0].Reportable() {
		t.Errorf("completed transition lost its source command: %+v", trs[0])
	}
	if s.Zones()[1].Active {
		t.Errorf("zone 1 still active at T+D")
	}

	// exactly one open and one close, never repeated
	s.Tick(ctx, t0.Add(2*d), nil)
	want := []ValveChange{
		{Zone: 1, Open: true, Duration: d, Reason: "start command", At: t0},
		{Zone: 1, Open: false, Reason: "duration elapsed", At: t0.Add(d)},
	}
	if !reflect.DeepEqual(act.changes, want) {
		t.Errorf("actuations = %+v, want %+v", act.changes, want)
	}
}

func TestRestartResetsTimer(t *testing.T) {
	s, act, _ := newPilot(t)
	ctx := context.Background()

	s.Apply(ctx, start("1", 0, time.Minute), t0)
	res := s.Apply(ctx, start("2", 0, 30*time.Second), t0.Add(50*time.Second))
	if res.Status != entities.StatusExecuted || res.Transition != nil {
		t.Fatalf("restart = %+v, want EXECUTED without actuation", res)
	}
	z := s.Zones()[0]
	if !z.StartTime.Equal(t0.Add(50*time.Second)) || z.RequestedDuration != 30*time.Second || *z.SourceCommandID != "2" {
		t.Fatalf("zone after restart = %+v", z)
	}

	// the original expiry (t0+60s) no longer applies, and durations do not stack
	if trs := s.Tick(ctx, t0.Add(60*time.Second), nil); len(trs) != 0 {
		t.Errorf("zone stopped at old expiry: %+v", trs)
	}
	if trs := s.Tick(ctx, t0.Add(80*time.Second), nil); len(trs) != 1 {
		t.Errorf("zone not stopped at new expiry")
	}
	if len(act.changes) != 2 {
		t.Errorf("actuations = %d, want 2", len(act.changes))
	}
}

func TestInvalidZoneNeverMutates(t *testing.T) {
	s, act, _ := newPilot(t)
	ctx := context.Background()
	s.Apply(ctx, start("1", 2, time.Minute), t0)
	before := s.Zones()

	for _, cmd := range []entities.Command{
		stop("9", 4),
		stop("10", 200),
		stop("11", -1),
		start("12", 4, time.Minute),
		start("13", entities.ZoneFromWire(0), time.Minute),
	} {
		res := s.Apply(ctx, cmd, t0.Add(time.Second))
		if !errors.Is(res.Err, ErrInvalidZone) || res.Status != entities.StatusFailed {
			t.Errorf("Apply(%s zone %d) = %+v, want FAILED InvalidZone", cmd.Type, cmd.ZoneID, res)
		}
	}
	if !reflect.DeepEqual(s.Zones(), before) {
		t.Errorf("zone array mutated by invalid commands")
	}
	if len(act.changes) != 1 {
		t.Errorf("actuations = %d, want 1", len(act.changes))
	}
}

func TestStopIdleIsExecutedNoop(t *testing.T) {
	s, act, _ := newPilot(t)
	res := s.Apply(context.Background(), stop("1", 3), t0)
	if res.Err != nil || res.Status != entities.StatusExecuted || res.Transition != nil {
		t.Errorf("STOP idle = %+v", res)
	}
	if len(act.changes) != 0 {
		t.Errorf("STOP on idle zone actuated")
	}
}

func TestStopActive(t *testing.T) {
	s, _, _ := newPilot(t)
	ctx := context.Background()
	s.Apply(ctx, start("1", 0, time.Hour), t0)
	res := s.Apply(ctx, stop("2", 0), t0.Add(time.Minute))
	if res.Transition == nil || res.Transition.Open || res.Transition.Reportable() {
		t.Errorf("STOP active = %+v", res)
	}
	if s.Zones()[0].Active {
		t.Errorf("zone still active")
	}
}

func TestInvalidDuration(t *testing.T) {
	s, _, _ := newPilot(t)
	for _, d := range []time.Duration{0, -time.Second} {
		res := s.Apply(context.Background(), start("1", 0, d), t0)
		if !errors.Is(res.Err, ErrInvalidDuration) {
			t.Errorf("START duration %v: err = %v, want ErrInvalidDuration", d, res.Err)
		}
	}
	if s.Zones()[0].Active {
		t.Errorf("zone started with invalid duration")
	}
	res := s.Apply(context.Background(), entities.Command{ID: "x", Type: "PAUSE", ZoneID: 0, Origin: entities.OriginRemote}, t0)
	if !errors.Is(res.Err, ErrUnknownCommand) {
		t.Errorf("unknown type err = %v", res.Err)
	}
}

func TestModeGate(t *testing.T) {
	s := New(4, nil, entities.FlagOwner{})
	ctx := context.Background()
	if s.Mode() != entities.ModeAuto {
		t.Fatalf("default mode = %s, want AUTO", s.Mode())
	}

	res := s.Apply(ctx, start("1", 0, time.Minute), t0)
	if !errors.Is(res.Err, ErrModeRejected) {
		t.Errorf("remote command in AUTO: err = %v, want ErrModeRejected", res.Err)
	}
	planned := start("p", 0, time.Minute)
	planned.Origin = entities.OriginPlanner
	if res := s.Apply(ctx, planned, t0); res.Err != nil {
		t.Errorf("planner command in AUTO: err = %v", res.Err)
	}

	if !s.SetMode(entities.ModePilot) || s.SetMode(entities.ModePilot) {
		t.Errorf("SetMode() changed flag wrong")
	}
	if res := s.Apply(ctx, planned, t0); !errors.Is(res.Err, ErrModeRejected) {
		t.Errorf("planner command in PILOT: err = %v, want ErrModeRejected", res.Err)
	}
	if !s.Zones()[0].Active {
		t.Errorf("mode switch stopped a running zone")
	}
}

func TestForcedStop(t *testing.T) {
	s, _, _ := newPilot(t)
	ctx := context.Background()
	s.Apply(ctx, start("1", 0, time.Hour), t0)
	s.Apply(ctx, start("2", 3, time.Hour), t0)

	trs := s.Tick(ctx, t0.Add(time.Second), map[entities.ZoneID]string{0: "Stopped due to rain", 3: "Stopped due to rain", 1: "ignored, idle"})
	if len(trs) != 2 {
		t.Fatalf("Tick() = %+v, want 2 forced transitions", trs)
	}
	for _, tr := range trs {
		if tr.Status != entities.StatusFailed || tr.Reason != "Stopped due to rain" || !tr.Reportable() {
			t.Errorf("forced transition = %+v", tr)
		}
	}
	for _, z := range s.Zones() {
		if z.Active {
			t.Errorf("zone %d still active", z.ID)
		}
	}
}

func TestExpiryWinsOverForced(t *testing.T) {
	s, _, _ := newPilot(t)
	ctx := context.Background()
	s.Apply(ctx, start("1", 0, time.Minute), t0)
	trs := s.Tick(ctx, t0.Add(time.Minute), map[entities.ZoneID]string{0: "No flow detected"})
	if len(trs) != 1 || trs[0].Status != entities.StatusCompleted {
		t.Errorf("Tick() = %+v, want COMPLETED", trs)
	}
}

func TestValveFeedbackFlag(t *testing.T) {
	s, act, es := newPilot(t)
	ctx := context.Background()
	act.err = errors.New("relay timeout")

	res := s.Apply(ctx, start("1", 0, time.Minute), t0)
	if res.Transition == nil || res.Transition.ActuationErr == nil {
		t.Fatalf("actuation error not reported: %+v", res)
	}
	if !s.Zones()[0].Active {
		t.Errorf("logical transition lost on actuation failure")
	}
	if !es.Flags().Has(entities.FlagValveFeedback) {
		t.Fatalf("VALVE_FEEDBACK not set")
	}

	act.err = nil
	s.Apply(ctx, stop("2", 0), t0.Add(time.Second))
	if es.Flags().Has(entities.FlagValveFeedback) {
		t.Errorf("VALVE_FEEDBACK not cleared after a good actuation")
	}
}

type stalledActuator struct{ calls int }

func (a *stalledActuator) SetValve(ctx context.Context, _ ValveChange) error {
	a.calls++
	<-ctx.Done()
	return ctx.Err()
}

// A stalled output must not hold the tick for one timeout per zone.
func TestTickActuationBudget(t *testing.T) {
	var es entities.ErrorState
	owner, _ := es.Owner(entities.FlagValveFeedback)
	act := &stalledActuator{}
	s := New(4, act, owner)
	s.SetMode(entities.ModePilot)
	s.SetActuationTimeout(40 * time.Millisecond)

	ctx := context.Background()
	forced := map[entities.ZoneID]string{}
	for z := entities.ZoneID(0); z < 4; z++ {
		s.Apply(ctx, start(fmt.Sprint(z), z, time.Hour), t0)
		forced[z] = "Stopped due to rain"
	}

	started := time.Now()
	trs := s.Tick(ctx, t0.Add(time.Second), forced)
	if elapsed := time.Since(started); elapsed > 120*time.Millisecond {
		t.Fatalf("Tick() took %s for 4 stalled valves, want about one timeout", elapsed)
	}
	if len(trs) != 4 || act.calls != 8 {
		t.Fatalf("transitions = %d calls = %d", len(trs), act.calls)
	}
	for _, tr := range trs {
		if !errors.Is(tr.ActuationErr, context.DeadlineExceeded) {
			t.Errorf("zone %d ActuationErr = %v", tr.Zone.WireID(), tr.ActuationErr)
		}
	}
	if !es.Flags().Has(entities.FlagValveFeedback) {
		t.Errorf("VALVE_FEEDBACK not set")
	}
}

func TestStopAll(t *testing.T) {
	s, act, _ := newPilot(t)
	ctx := context.Background()
	s.Apply(ctx, start("1", 0, time.Hour), t0)
	s.Apply(ctx, start("2", 2, time.Hour), t0)
	trs := s.StopAll(ctx, t0.Add(time.Second), "shutdown")
	if len(trs) != 2 || len(act.changes) != 4 {
		t.Errorf("StopAll() = %d transitions, %d actuations", len(trs), len(act.changes))
	}
}

func TestPlanner(t *testing.T) {
	p := NewPlanner()
	cmds := p.Plan([]messages.ScheduleEntry{
		{ZoneID: 1, DurationMinutes: 10},
		{ZoneID: 3, DurationMinutes: 0.5},
		{ZoneID: 2, DurationMinutes: 0},
		{ZoneID: 9, DurationMinutes: 5},
	})
	if len(cmds) != 3 {
		t.Fatalf("Plan() = %d commands, want 3", len(cmds))
	}
	if cmds[0].ZoneID != 0 || cmds[0].Duration != 10*time.Minute || cmds[0].Origin != entities.OriginPlanner {
		t.Errorf("cmds[0] = %+v", cmds[0])
	}
	if cmds[1].Duration != 30*time.Second {
		t.Errorf("cmds[1].Duration = %v, want 30s", cmds[1].Duration)
	}
	if cmds[0].ID == cmds[1].ID || cmds[0].ID == "" {
		t.Errorf("planner ids not unique: %q %q", cmds[0].ID, cmds[1].ID)
	}

	s := New(4, nil, entities.FlagOwner{})
	if res := s.Apply(context.Background(), cmds[2], t0); !errors.Is(res.Err, ErrInvalidZone) {
		t.Errorf("planned zone 9: err = %v, want ErrInvalidZone", res.Err)
	}
}

func TestPlannerRejectsOverflowingDuration(t *testing.T) {
	cmds := NewPlanner().Plan([]messages.ScheduleEntry{
		{ZoneID: 1, DurationMinutes: 1e300},
		{ZoneID: 2, DurationMinutes: maxPlanMinutes},
		{ZoneID: 3, DurationMinutes: 60 * 24},
	})
	if len(cmds) != 1 || cmds[0].ZoneID != 2 || cmds[0].Duration != 24*time.Hour {
		t.Fatalf("Plan() = %+v, want only the 24h entry for zone 3", cmds)
	}
}
