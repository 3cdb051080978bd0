package entities

import (
	"fmt"
	"strings"
)

// ErrorFlag is the error bitmask reported to the coordinator.
type ErrorFlag uint8

const (
	FlagLink          ErrorFlag = 0x01
	FlagTransport     ErrorFlag = 0x02
	FlagSensorTimeout ErrorFlag = 0x04
	FlagFlowFault     ErrorFlag = 0x08
	FlagValveFeedback ErrorFlag = 0x10
	FlagDisplay       ErrorFlag = 0x20
)

var flagNames = []struct {
	flag ErrorFlag
	name string
}{
	{FlagLink, "LINK"},
	{FlagTransport, "TRANSPORT"},
	{FlagSensorTimeout, "SENSOR_TIMEOUT"},
	{FlagFlowFault, "FLOW_FAULT"},
	{FlagValveFeedback, "VALVE_FEEDBACK"},
	{FlagDisplay, "DISPLAY"},
}

func (f ErrorFlag) Has(x ErrorFlag) bool { return f&x == x }

func (f ErrorFlag) String() string {
	if f == 0 {
		return "OK"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ErrorState holds the OR of the flags of every component.
// Each component receives a FlagOwner and may only touch the bits it was granted.
type ErrorState struct {
	flags   ErrorFlag
	granted ErrorFlag
}

func (s *ErrorState) Flags() ErrorFlag { return s.flags }

// Owner hands out the bits in mask. A bit can be granted once.
func (s *ErrorState) Owner(mask ErrorFlag) (FlagOwner, error) {
	if s.granted&mask != 0 {
		return FlagOwner{}, fmt.Errorf("error flags %s already owned", s.granted&mask)
	}
	s.granted |= mask
	return FlagOwner{state: s, mask: mask}, nil
}

// FlagOwner sets and clears the flags of one component. The zero value is a no-op.
type FlagOwner struct {
	state *ErrorState
	mask  ErrorFlag
}

func (o FlagOwner) Set(f ErrorFlag) {
	if o.state != nil {
		o.state.flags |= f & o.mask
	}
}

func (o FlagOwner) Clear(f ErrorFlag) {
	if o.state != nil {
		o.state.flags &^= f & o.mask
	}
}

// Update sets f when on is true, clears it otherwise.
func (o FlagOwner) Update(f ErrorFlag, on bool) {
	if on {
		o.Set(f)
	} else {
		o.Clear(f)
	}
}

// IsSet reports whether every bit of f is currently set.
func (o FlagOwner) IsSet(f ErrorFlag) bool {
	return o.state != nil && o.state.flags&f == f
}
