// Package event normalizes node activity into CommonEvent and ships it to the
// event log (InfluxDB system_event). Emission is fire-and-forget.
package event

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/scheduler"
)

const (
	TypeStateChange    = "zone.state_change"
	TypeForcedStop     = "zone.forced_stop"
	TypeCommandOutcome = "command.outcome"
	TypeModeChange     = "node.mode_change"

	SourceNode = "irrigation-node"

	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

type CommonEvent struct {
	EventType     string
	SourceService string
	DeviceID      string
	ZoneID        string // 1-based, vuoto se non riferito a una zona
	Severity      string
	Fields        map[string]interface{}
	Timestamp     time.Time
}

// Sink receives events. Implementations must not block the caller.
type Sink interface {
	Emit(CommonEvent)
}

func FromTransition(deviceID string, t scheduler.Transition) CommonEvent {
	evt := CommonEvent{
		EventType:     TypeStateChange,
		SourceService: SourceNode,
		DeviceID:      deviceID,
		ZoneID:        strconv.Itoa(t.Zone.WireID()),
		Severity:      SeverityInfo,
		Fields: map[string]interface{}{
			"new_state": string(entities.ValveFor(t.Open)),
			"duration":  t.Duration.Seconds(),
			"status":    string(t.Status),
		},
		Timestamp: t.At,
	}
	if t.Reason != "" {
		evt.Fields["reason"] = t.Reason
	}
	if t.CommandID != nil {
		evt.Fields["command_id"] = string(*t.CommandID)
	}
	if !t.Open && t.Status == entities.StatusFailed {
		evt.EventType = TypeForcedStop
		evt.Severity = SeverityWarning
	}
	if t.ActuationErr != nil {
		evt.Severity = SeverityError
		evt.Fields["actuation_error"] = t.ActuationErr.Error()
	}
	return evt
}

func CommandOutcome(deviceID string, cmd entities.Command, status entities.CommandStatus, err error, at time.Time) CommonEvent {
	evt := CommonEvent{
		EventType:     TypeCommandOutcome,
		SourceService: SourceNode,
		DeviceID:      deviceID,
		ZoneID:        strconv.Itoa(cmd.ZoneID.WireID()),
		Severity:      SeverityInfo,
		Fields: map[string]interface{}{
			"command_id": string(cmd.ID),
			"type":       string(cmd.Type),
			"origin":     cmd.Origin.String(),
			"status":     string(status),
		},
		Timestamp: at,
	}
	if err != nil {
		evt.Severity = SeverityWarning
		evt.Fields["error"] = err.Error()
	}
	return evt
}

func ModeChange(deviceID string, from, to entities.Mode, at time.Time) CommonEvent {
	return CommonEvent{
		EventType:     TypeModeChange,
		SourceService: SourceNode,
		DeviceID:      deviceID,
		Severity:      SeverityInfo,
		Fields: map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		},
		Timestamp: at,
	}
}

// LogSink writes events to the standard logger.
type LogSink struct{}

func (LogSink) Emit(evt CommonEvent) {
	zone := ""
	if evt.ZoneID != "" {
		zone = fmt.Sprintf(" zone=%s", evt.ZoneID)
	}
	log.Printf("event: %s [%s]%s %v", evt.EventType, evt.Severity, zone, evt.Fields)
}
