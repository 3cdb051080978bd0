package messages

import "time"

// IOFrame is what the IO board next to the bus publishes on device/{id}/io:
// the flow-meter pulses counted since its previous frame plus the latest
// digital/analog inputs. Values are keyed by field name (pressure, air_temp, ...).
type IOFrame struct {
	Pulses    uint64             `json:"pulses"`
	Raining   *bool              `json:"raining,omitempty"`
	Values    map[string]float64 `json:"values,omitempty"`
	Timestamp time.Time          `json:"timestamp,omitempty"`
}
