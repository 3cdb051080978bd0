package entities

import (
	"fmt"
	"strings"
)

// Mode is the process-wide scheduling mode.
type Mode string

const (
	ModeAuto  Mode = "AUTO"
	ModePilot Mode = "PILOT"
)

// ParseMode accetta "auto"/"pilot" in qualsiasi case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeAuto:
		return ModeAuto, nil
	case ModePilot:
		return ModePilot, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Accepts reports whether commands of the given origin are admitted in this mode.
func (m Mode) Accepts(o CommandOrigin) bool {
	if m == ModePilot {
		return o == OriginRemote
	}
	return o == OriginPlanner
}
