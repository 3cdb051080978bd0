package entities

import "time"

// ZoneID indicizza una zona a partire da 0. Sul filo (coordinator, MQTT) le zone sono 1-based.
type ZoneID int

// WireID converte nell'id 1-based usato dal coordinator.
func (id ZoneID) WireID() int { return int(id) + 1 }

// ZoneFromWire converte un id 1-based senza wraparound: 0 o negativi restano fuori range.
func ZoneFromWire(n int) ZoneID { return ZoneID(n - 1) }

// Zone is one independently controllable valve output.
// Invariant: Active implies RequestedDuration > 0.
type Zone struct {
	ID                ZoneID
	Active            bool
	StartTime         time.Time
	RequestedDuration time.Duration
	SourceCommandID   *CommandID
	SourceOrigin      CommandOrigin
}

// Expired reports whether an active zone reached the end of its requested duration.
func (z Zone) Expired(now time.Time) bool {
	return z.Active && now.Sub(z.StartTime) >= z.RequestedDuration
}

// Remaining ritorna il tempo residuo (0 se la zona è ferma o scaduta).
func (z Zone) Remaining(now time.Time) time.Duration {
	if !z.Active {
		return 0
	}
	left := z.RequestedDuration - now.Sub(z.StartTime)
	if left < 0 {
		return 0
	}
	return left
}

// ValveState is the physical state published for a valve.
type ValveState string

const (
	ValveOff ValveState = "off"
	ValveOn  ValveState = "on"
)

func ValveFor(open bool) ValveState {
	if open {
		return ValveOn
	}
	return ValveOff
}
