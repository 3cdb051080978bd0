package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CommandID identifies a command. The coordinator may send it as a JSON number or string.
type CommandID string

func (id *CommandID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return fmt.Errorf("command id: empty")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("command id: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("command id: empty")
		}
		*id = CommandID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("command id: %w", err)
	}
	*id = CommandID(n.String())
	return nil
}

type CommandType string

const (
	CommandStart CommandType = "START"
	CommandStop  CommandType = "STOP"
)

type CommandStatus string

const (
	StatusPending   CommandStatus = "PENDING"
	StatusExecuted  CommandStatus = "EXECUTED"
	StatusFailed    CommandStatus = "FAILED"
	StatusCompleted CommandStatus = "COMPLETED"
)

// Wire ritorna lo stato nel formato atteso dal coordinator ("executed", ...).
func (s CommandStatus) Wire() string { return strings.ToLower(string(s)) }

// CommandOrigin tells who produced a command; the scheduler gates on it by mode.
type CommandOrigin int

const (
	OriginRemote CommandOrigin = iota
	OriginPlanner
)

func (o CommandOrigin) String() string {
	switch o {
	case OriginPlanner:
		return "planner"
	default:
		return "remote"
	}
}

// Command is created on receipt, applied once by the scheduler and then discarded.
type Command struct {
	ID           CommandID
	Type         CommandType
	ZoneID       ZoneID
	Duration     time.Duration
	Origin       CommandOrigin
	Status       CommandStatus
	ErrorMessage string
}
