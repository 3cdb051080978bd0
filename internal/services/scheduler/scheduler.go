// Package scheduler owns the zone state machines (IDLE <-> ACTIVE), applies
// commands under the mode gate and actuates valves once per transition.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/metrics"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
)

const DefaultMaxZones = 4

var (
	ErrInvalidZone     = errors.New("invalid zone")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrModeRejected    = errors.New("command not accepted in current mode")
	ErrUnknownCommand  = errors.New("unknown command type")
)

// ValveChange is one physical actuation request.
type ValveChange struct {
	Zone     entities.ZoneID
	Open     bool
	Duration time.Duration
	Reason   string
	At       time.Time
}

// Actuator drives the valve outputs (relay board, MQTT relay node, simulator).
type Actuator interface {
	SetValve(ctx context.Context, change ValveChange) error
}

// Transition is a zone state change produced by Apply or Tick.
type Transition struct {
	Zone     entities.ZoneID
	Open     bool
	At       time.Time
	Duration time.Duration
	// Status is the outcome for the zone's source command: COMPLETED on expiry,
	// FAILED on a forced stop, EXECUTED for explicit commands.
	Status       entities.CommandStatus
	Reason       string
	CommandID    *entities.CommandID
	Origin       entities.CommandOrigin
	ActuationErr error
}

// Reportable says whether the coordinator should hear about this transition.
func (t Transition) Reportable() bool {
	return t.CommandID != nil && t.Origin == entities.OriginRemote &&
		(t.Status == entities.StatusCompleted || t.Status == entities.StatusFailed)
}

// ApplyResult is the outcome of Apply. Transition is nil when no valve moved.
type ApplyResult struct {
	Status     entities.CommandStatus
	Err        error
	Transition *Transition
}

type Scheduler struct {
	zones      []entities.Zone
	mode       entities.Mode
	act        Actuator
	valveFlag  entities.FlagOwner
	actTimeout time.Duration
}

// New creates maxZones idle zones in AUTO mode. valveFlag must own VALVE_FEEDBACK.
func New(maxZones int, act Actuator, valveFlag entities.FlagOwner) *Scheduler {
	if maxZones <= 0 {
		maxZones = DefaultMaxZones
	}
	zones := make([]entities.Zone, maxZones)
	for i := range zones {
		zones[i].ID = entities.ZoneID(i)
	}
	return &Scheduler{
		zones:      zones,
		mode:       entities.ModeAuto,
		act:        act,
		valveFlag:  valveFlag,
		actTimeout: DefaultActuationTimeout,
	}
}

// DefaultActuationTimeout stays below the default 1s tick.
const DefaultActuationTimeout = 500 * time.Millisecond

// SetActuationTimeout bounds each SetValve call and, in Tick, all of them together.
func (s *Scheduler) SetActuationTimeout(d time.Duration) {
	if d > 0 {
		s.actTimeout = d
	}
}

func (s *Scheduler) MaxZones() int { return len(s.zones) }

// Zones returns a copy of the zone array.
func (s *Scheduler) Zones() []entities.Zone {
	out := make([]entities.Zone, len(s.zones))
	copy(out, s.zones)
	return out
}

func (s *Scheduler) Mode() entities.Mode { return s.mode }

// SetMode switches the process-wide mode. Running zones keep their timers.
func (s *Scheduler) SetMode(m entities.Mode) bool {
	if m == s.mode {
		return false
	}
	log.Printf("scheduler: mode %s -> %s", s.mode, m)
	s.mode = m
	return true
}

func (s *Scheduler) validZone(id entities.ZoneID) bool {
	return id >= 0 && int(id) < len(s.zones)
}

// Apply validates and executes one command. Failed commands never touch the zone array.
func (s *Scheduler) Apply(ctx context.Context, cmd entities.Command, now time.Time) ApplyResult {
	res := s.apply(ctx, cmd, now)
	metrics.ObserveCommand(cmd.Origin.String(), string(res.Status))
	if res.Err != nil {
		log.Printf("scheduler: command %s (%s zone %d) failed: %v", cmd.ID, cmd.Type, cmd.ZoneID.WireID(), res.Err)
	}
	return res
}

func (s *Scheduler) apply(ctx context.Context, cmd entities.Command, now time.Time) ApplyResult {
	fail := func(err error) ApplyResult {
		return ApplyResult{Status: entities.StatusFailed, Err: err}
	}
	if !s.validZone(cmd.ZoneID) {
		return fail(fmt.Errorf("%w: zone %d outside [1, %d]", ErrInvalidZone, cmd.ZoneID.WireID(), len(s.zones)))
	}
	if !s.mode.Accepts(cmd.Origin) {
		return fail(fmt.Errorf("%w: %s command in %s mode", ErrModeRejected, cmd.Origin, s.mode))
	}

	z := &s.zones[cmd.ZoneID]
	switch cmd.Type {
	case entities.CommandStart:
		if cmd.Duration <= 0 {
			return fail(fmt.Errorf("%w: %v", ErrInvalidDuration, cmd.Duration))
		}
		wasActive := z.Active
		id := cmd.ID
		z.Active = true
		z.StartTime = now
		z.RequestedDuration = cmd.Duration
		z.SourceCommandID = &id
		z.SourceOrigin = cmd.Origin
		if wasActive {
			// last write wins: nuovo timer, valvola già aperta
			log.Printf("scheduler: zone %d restarted for %v by %s", z.ID.WireID(), cmd.Duration, cmd.ID)
			return ApplyResult{Status: entities.StatusExecuted}
		}
		tr := s.transition(ctx, z, true, now, entities.StatusExecuted, "start command")
		tr.CommandID, tr.Origin = &id, cmd.Origin
		return ApplyResult{Status: entities.StatusExecuted, Transition: &tr}

	case entities.CommandStop:
		if !z.Active {
			return ApplyResult{Status: entities.StatusExecuted}
		}
		id := cmd.ID
		tr := s.transition(ctx, z, false, now, entities.StatusExecuted, "stop command")
		tr.CommandID, tr.Origin = &id, cmd.Origin
		return ApplyResult{Status: entities.StatusExecuted, Transition: &tr}
	}
	return fail(fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type))
}

// Tick closes zones whose duration elapsed (COMPLETED) or that are in forced
// (FAILED with the given reason). Expiry wins when both hold.
func (s *Scheduler) Tick(ctx context.Context, now time.Time, forced map[entities.ZoneID]string) []Transition {
	// un solo budget per tutte le chiusure del tick
	ctx, cancel := context.WithTimeout(ctx, s.actTimeout)
	defer cancel()
	var out []Transition
	for i := range s.zones {
		z := &s.zones[i]
		if !z.Active {
			continue
		}
		var (
			status entities.CommandStatus
			reason string
		)
		if z.Expired(now) {
			status, reason = entities.StatusCompleted, "duration elapsed"
		} else if msg, ok := forced[z.ID]; ok {
			status, reason = entities.StatusFailed, msg
		} else {
			continue
		}
		src, origin := z.SourceCommandID, z.SourceOrigin
		tr := s.transition(ctx, z, false, now, status, reason)
		tr.CommandID, tr.Origin = src, origin
		out = append(out, tr)
	}
	return out
}

// StopAll closes every active zone, used on shutdown.
func (s *Scheduler) StopAll(ctx context.Context, now time.Time, reason string) []Transition {
	var out []Transition
	for i := range s.zones {
		z := &s.zones[i]
		if !z.Active {
			continue
		}
		src, origin := z.SourceCommandID, z.SourceOrigin
		tr := s.transition(ctx, z, false, now, entities.StatusFailed, reason)
		tr.CommandID, tr.Origin = src, origin
		out = append(out, tr)
	}
	return out
}

// transition mutates z and issues exactly one actuation.
func (s *Scheduler) transition(ctx context.Context, z *entities.Zone, open bool, now time.Time, status entities.CommandStatus, reason string) Transition {
	tr := Transition{Zone: z.ID, Open: open, At: now, Status: status, Reason: reason}
	if open {
		tr.Duration = z.RequestedDuration
	} else {
		z.Active = false
		z.StartTime = time.Time{}
		z.RequestedDuration = 0
		z.SourceCommandID = nil
		z.SourceOrigin = entities.OriginRemote
	}
	metrics.SetZoneActive(z.ID.WireID(), open)

	if s.act != nil {
		actx, cancel := context.WithTimeout(ctx, s.actTimeout)
		err := s.act.SetValve(actx, ValveChange{Zone: z.ID, Open: open, Duration: tr.Duration, Reason: reason, At: now})
		cancel()
		if err != nil {
			tr.ActuationErr = err
			s.valveFlag.Set(entities.FlagValveFeedback)
			log.Printf("scheduler: zone %d valve %s failed: %v", z.ID.WireID(), entities.ValveFor(open), err)
		} else {
			s.valveFlag.Clear(entities.FlagValveFeedback)
		}
	}
	log.Printf("scheduler: zone %d -> %s (%s)", z.ID.WireID(), entities.ValveFor(open), reason)
	return tr
}
