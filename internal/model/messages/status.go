package messages

import "time"

// StatusView is the read-only view handed to the display and the status API.
type StatusView struct {
	DeviceID     string        `json:"device_id"`
	Mode         string        `json:"mode"`
	Errors       uint8         `json:"errors"`
	ErrorText    string        `json:"error_text"`
	Moisture     float64       `json:"soil_moisture"`
	SoilTemp     float64       `json:"soil_temp"`
	AirTemp      float64       `json:"air_temp"`
	AirHumidity  float64       `json:"air_humidity"`
	FlowRate     float64       `json:"flow_rate"`
	WaterUsed    float64       `json:"cumulative_water_used"`
	Raining      bool          `json:"is_raining"`
	Pressure     float64       `json:"pressure"`
	Zones        []ZoneStatus  `json:"zones"`
	LastPush     *time.Time    `json:"last_push,omitempty"`
	LastPoll     *time.Time    `json:"last_poll,omitempty"`
	SnapshotTime time.Time     `json:"snapshot_time"`
	Uptime       time.Duration `json:"uptime_ns"`
}

type ZoneStatus struct {
	ID          int    `json:"id"` // 1-based
	Active      bool   `json:"active"`
	RemainingMS int64  `json:"remaining_ms"`
	LastReason  string `json:"last_reason,omitempty"`
}
