package messages

import (
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
)

// StateChangeEvent is published on event/StateChange/{device}/{zone} at every valve transition.
type StateChangeEvent struct {
	DeviceID  string              `json:"device_id"`
	ZoneID    int                 `json:"zone_id"` // 1-based
	NewState  entities.ValveState `json:"new_state"`
	Duration  time.Duration       `json:"duration"`
	Reason    string              `json:"reason,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// ModeRequest arriva su device/{device}/mode oppure PUT /mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}
