package messages

import (
	"encoding/json"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
)

const (
	WireStartIrrigation = "start_irrigation"
	WireStopIrrigation  = "stop_irrigation"
)

// CommandPoll è la risposta di GET /api/arduino/{device}/commands.
// Gli elementi restano raw: un comando malformato non invalida gli altri.
type CommandPoll struct {
	Commands []json.RawMessage `json:"commands"`
}

type RemoteCommand struct {
	CommandID  entities.CommandID `json:"command_id"`
	Type       string             `json:"type"`
	Parameters CommandParameters  `json:"parameters"`
}

// CommandParameters: zone_id is 1-based. Older coordinators send "duration" (ms)
// instead of "duration_ms".
type CommandParameters struct {
	ZoneID     *int   `json:"zone_id"`
	DurationMS *int64 `json:"duration_ms,omitempty"`
	Duration   *int64 `json:"duration,omitempty"`
}

// DurationMillis ritorna la durata richiesta, preferendo duration_ms.
func (p CommandParameters) DurationMillis() (int64, bool) {
	switch {
	case p.DurationMS != nil:
		return *p.DurationMS, true
	case p.Duration != nil:
		return *p.Duration, true
	}
	return 0, false
}

// CommandStatusReport è il body di POST .../commands/{id}/status.
type CommandStatusReport struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}
