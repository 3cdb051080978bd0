package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/messages"
)

var ErrMalformedCommand = errors.New("malformed command")

// DecodeCommand validates one polled command. On error the returned command
// still carries the id when it could be read, so the failure can be reported.
func DecodeCommand(raw json.RawMessage) (entities.Command, error) {
	var rc messages.RemoteCommand
	if err := json.Unmarshal(raw, &rc); err != nil {
		var idOnly struct {
			CommandID entities.CommandID `json:"command_id"`
		}
		_ = json.Unmarshal(raw, &idOnly)
		return entities.Command{ID: idOnly.CommandID, Origin: entities.OriginRemote, Status: entities.StatusFailed},
			fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	return FromRemote(rc)
}

// FromRemote maps the wire schema onto a Command. Zone ids are 1-based on the wire.
func FromRemote(rc messages.RemoteCommand) (entities.Command, error) {
	cmd := entities.Command{ID: rc.CommandID, Origin: entities.OriginRemote, Status: entities.StatusPending}
	fail := func(format string, args ...any) (entities.Command, error) {
		cmd.Status = entities.StatusFailed
		return cmd, fmt.Errorf("%w: "+format, append([]any{ErrMalformedCommand}, args...)...)
	}

	if rc.CommandID == "" {
		return fail("missing command_id")
	}
	switch rc.Type {
	case messages.WireStartIrrigation:
		cmd.Type = entities.CommandStart
	case messages.WireStopIrrigation:
		cmd.Type = entities.CommandStop
	default:
		return fail("unknown type %q", rc.Type)
	}
	if rc.Parameters.ZoneID == nil {
		return fail("missing zone_id")
	}
	cmd.ZoneID = entities.ZoneFromWire(*rc.Parameters.ZoneID)

	if cmd.Type == entities.CommandStart {
		ms, ok := rc.Parameters.DurationMillis()
		if !ok {
			return fail("missing duration_ms")
		}
		if ms > math.MaxInt64/int64(time.Millisecond) {
			return fail("duration_ms %d too large", ms)
		}
		cmd.Duration = time.Duration(ms) * time.Millisecond
	}
	return cmd, nil
}
