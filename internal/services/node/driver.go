// Package node runs the control loop of the irrigation node: one driver
// goroutine owns zones, snapshot, mode and error flags, and every other
// goroutine (coordinator calls, MQTT callbacks, HTTP handlers) talks to it
// through channels.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/metrics"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/coordinator"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/display"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/event"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/safety"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/scheduler"
)

const shutdownTimeout = 2 * time.Second

// SensorReader produces one snapshot per read cycle (telemetry.Reader).
type SensorReader interface {
	ReadCycle(ctx context.Context, now time.Time) entities.SensorSnapshot
}

// Sync is the coordinator side of the loop (coordinator.Protocol).
type Sync interface {
	Collect(now time.Time) coordinator.Inbound
	Dispatch(ctx context.Context, now time.Time, body func() messages.TelemetryPush)
	Report(id entities.CommandID, status entities.CommandStatus, errMsg string)
	LastPush() time.Time
	LastPoll() time.Time
}

type Config struct {
	DeviceID       string
	TickPeriod     time.Duration
	SensorInterval time.Duration
}

// Deps are the components the driver calls. Sync, Display and Planner are optional.
type Deps struct {
	Reader    SensorReader
	Scheduler *scheduler.Scheduler
	Planner   *scheduler.Planner
	Monitor   safety.Monitor
	Sync      Sync
	Events    event.Sink
	Display   display.Renderer
	Errors    *entities.ErrorState
}

// Driver is the SystemState owner. Only Run/Tick touch its fields; the
// exported accessors are safe from any goroutine.
type Driver struct {
	cfg     Config
	reader  SensorReader
	sched   *scheduler.Scheduler
	planner *scheduler.Planner
	monitor safety.Monitor
	sync    Sync
	events  event.Sink
	display display.Renderer
	errs    *entities.ErrorState

	flowFlag    entities.FlagOwner
	linkFlag    entities.FlagOwner
	displayFlag entities.FlagOwner

	modeReq chan entities.Mode
	link    chan bool

	snap     entities.SensorSnapshot
	nextRead time.Time
	reasons  map[entities.ZoneID]string
	started  time.Time
	status   atomic.Pointer[messages.StatusView]

	now func() time.Time
}

func NewDriver(cfg Config, deps Deps) (*Driver, error) {
	if deps.Reader == nil || deps.Scheduler == nil || deps.Errors == nil {
		return nil, errors.New("node: reader, scheduler and error state are required")
	}
	if cfg.TickPeriod <= 0 {
		return nil, fmt.Errorf("node: tick period must be > 0, got %s", cfg.TickPeriod)
	}
	if cfg.SensorInterval < cfg.TickPeriod {
		cfg.SensorInterval = cfg.TickPeriod
	}
	flow, err := deps.Errors.Owner(entities.FlagFlowFault)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	link, err := deps.Errors.Owner(entities.FlagLink)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	disp, err := deps.Errors.Owner(entities.FlagDisplay)
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}
	if deps.Events == nil {
		deps.Events = event.LogSink{}
	}
	return &Driver{
		cfg:         cfg,
		reader:      deps.Reader,
		sched:       deps.Scheduler,
		planner:     deps.Planner,
		monitor:     deps.Monitor,
		sync:        deps.Sync,
		events:      deps.Events,
		display:     deps.Display,
		errs:        deps.Errors,
		flowFlag:    flow,
		linkFlag:    link,
		displayFlag: disp,
		modeReq:     make(chan entities.Mode, 4),
		link:        make(chan bool, 1),
		reasons:     make(map[entities.ZoneID]string),
		now:         time.Now,
	}, nil
}

// ModeRequests is where MQTT and HTTP hand mode changes to the loop.
func (d *Driver) ModeRequests() chan<- entities.Mode { return d.modeReq }

// RequestMode enqueues without blocking; false means the queue was full.
func (d *Driver) RequestMode(m entities.Mode) bool {
	select {
	case d.modeReq <- m:
		return true
	default:
		return false
	}
}

// SetLink records the broker link state; only the latest value is kept.
func (d *Driver) SetLink(up bool) {
	for {
		select {
		case d.link <- up:
			return
		default:
		}
		select {
		case <-d.link:
		default:
		}
	}
}

// Status returns the view published by the last tick.
func (d *Driver) Status() (model.StatusView, bool) {
	v := d.status.Load()
	if v == nil {
		return model.StatusView{}, false
	}
	return *v, true
}

// Run ticks until ctx is done, then closes every open zone.
func (d *Driver) Run(ctx context.Context) error {
	d.started = d.now()
	ticker := time.NewTicker(d.cfg.TickPeriod)
	defer ticker.Stop()

	log.Printf("node %s: loop started (tick %s, sensors every %s)", d.cfg.DeviceID, d.cfg.TickPeriod, d.cfg.SensorInterval)
	d.Tick(ctx, d.now())
	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case <-ticker.C:
			d.Tick(ctx, d.now())
		}
	}
}

// Tick is one pass of the control loop.
func (d *Driver) Tick(ctx context.Context, now time.Time) {
	start := time.Now()
	if d.started.IsZero() {
		d.started = now
	}

	d.drainControl(now)

	if d.nextRead.IsZero() || !now.Before(d.nextRead) {
		d.snap = d.reader.ReadCycle(ctx, now)
		d.nextRead = now.Add(d.cfg.SensorInterval)
	}

	// le attuazioni del tick non possono sforare il periodo
	actx, cancel := context.WithTimeout(ctx, d.cfg.TickPeriod)
	if d.sync != nil {
		d.handleInbound(actx, d.sync.Collect(now), now)
	}

	decision := d.monitor.Evaluate(d.snap, d.sched.Zones())
	decision.ApplyFlags(d.flowFlag)
	for _, tr := range d.sched.Tick(actx, now, decision.Forced()) {
		d.onTransition(tr)
	}
	cancel()

	if d.sync != nil {
		d.sync.Dispatch(ctx, now, d.telemetryBody)
	}

	d.publish(now)
	metrics.ObserveTick(time.Since(start))
}

func (d *Driver) drainControl(now time.Time) {
	for {
		select {
		case m := <-d.modeReq:
			prev := d.sched.Mode()
			if d.sched.SetMode(m) {
				log.Printf("node: mode %s -> %s", prev, m)
				d.events.Emit(event.ModeChange(d.cfg.DeviceID, prev, m, now))
			}
		case up := <-d.link:
			if up == d.linkFlag.IsSet(entities.FlagLink) {
				log.Printf("node: broker link up=%v", up)
			}
			d.linkFlag.Update(entities.FlagLink, !up)
		default:
			return
		}
	}
}

func (d *Driver) handleInbound(ctx context.Context, in coordinator.Inbound, now time.Time) {
	for _, r := range in.Rejected {
		d.sync.Report(r.ID, entities.StatusFailed, r.Reason)
		metrics.ObserveCommand(entities.OriginRemote.String(), string(entities.StatusFailed))
	}
	for _, cmd := range in.Commands {
		res := d.apply(ctx, cmd, now)
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		d.sync.Report(cmd.ID, res.Status, msg)
	}
	if len(in.Schedule) == 0 || d.planner == nil {
		return
	}
	if d.sched.Mode() != entities.ModeAuto {
		log.Printf("node: schedule of %d entries ignored in %s", len(in.Schedule), d.sched.Mode())
		return
	}
	for _, cmd := range d.planner.Plan(in.Schedule) {
		d.apply(ctx, cmd, now)
	}
}

func (d *Driver) apply(ctx context.Context, cmd entities.Command, now time.Time) scheduler.ApplyResult {
	res := d.sched.Apply(ctx, cmd, now)
	d.events.Emit(event.CommandOutcome(d.cfg.DeviceID, cmd, res.Status, res.Err, now))
	if res.Transition != nil {
		d.onTransition(*res.Transition)
	}
	return res
}

func (d *Driver) onTransition(tr scheduler.Transition) {
	if tr.Reason != "" {
		d.reasons[tr.Zone] = tr.Reason
	} else if tr.Open {
		d.reasons[tr.Zone] = "started"
	} else {
		d.reasons[tr.Zone] = string(tr.Status)
	}
	if !tr.Open && tr.Status == entities.StatusFailed {
		metrics.ObserveForcedStop(tr.Reason)
	}
	d.events.Emit(event.FromTransition(d.cfg.DeviceID, tr))
	if d.sync != nil && tr.Reportable() {
		msg := ""
		if tr.Status == entities.StatusFailed {
			msg = tr.Reason
		}
		d.sync.Report(*tr.CommandID, tr.Status, msg)
	}
}

func (d *Driver) telemetryBody() messages.TelemetryPush {
	return messages.NewTelemetryPush(d.cfg.DeviceID, d.snap, d.sched.Zones(), d.errs.Flags(), d.sched.Mode())
}

// publish builds the status view, renders it and stores it for readers.
func (d *Driver) publish(now time.Time) {
	v := d.view(now)
	if d.display != nil {
		err := d.display.Render(v)
		if err != nil && !d.displayFlag.IsSet(entities.FlagDisplay) {
			log.Printf("display: %v", err)
		}
		d.displayFlag.Update(entities.FlagDisplay, err != nil)
		// il flag DISPLAY deve comparire già nella vista pubblicata
		v.Errors = uint8(d.errs.Flags())
		v.ErrorText = d.errs.Flags().String()
	}
	metrics.SetErrorFlags(v.Errors)
	d.status.Store(&v)
}

func (d *Driver) view(now time.Time) model.StatusView {
	flags := d.errs.Flags()
	zones := d.sched.Zones()
	v := model.StatusView{
		DeviceID:     d.cfg.DeviceID,
		Mode:         string(d.sched.Mode()),
		Errors:       uint8(flags),
		ErrorText:    flags.String(),
		Moisture:     d.snap.SoilMoisture,
		SoilTemp:     d.snap.SoilTemp,
		AirTemp:      d.snap.AirTemp,
		AirHumidity:  d.snap.AirHumidity,
		FlowRate:     d.snap.FlowRate,
		WaterUsed:    d.snap.CumulativeWaterUsed,
		Raining:      d.snap.IsRaining,
		Pressure:     d.snap.Pressure,
		Zones:        make([]messages.ZoneStatus, 0, len(zones)),
		SnapshotTime: d.snap.Timestamp,
		Uptime:       now.Sub(d.started),
	}
	for _, z := range zones {
		zs := messages.ZoneStatus{
			ID:         z.ID.WireID(),
			Active:     z.Active,
			LastReason: d.reasons[z.ID],
		}
		if z.Active {
			zs.RemainingMS = z.Remaining(now).Milliseconds()
		}
		v.Zones = append(v.Zones, zs)
	}
	if d.sync != nil {
		if t := d.sync.LastPush(); !t.IsZero() {
			v.LastPush = &t
		}
		if t := d.sync.LastPoll(); !t.IsZero() {
			v.LastPoll = &t
		}
	}
	return v
}

func (d *Driver) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	now := d.now()
	for _, tr := range d.sched.StopAll(ctx, now, "shutdown") {
		d.onTransition(tr)
	}
	d.publish(now)
	log.Printf("node %s: loop stopped", d.cfg.DeviceID)
}
