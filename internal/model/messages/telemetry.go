package messages

import (
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
)

// TelemetryPush è il body di POST /api/arduino/{device}/data.
type TelemetryPush struct {
	DeviceID            string       `json:"device_id"`
	Timestamp           time.Time    `json:"timestamp"`
	SoilMoisture        float64      `json:"soil_moisture"`
	SoilTemp            float64      `json:"soil_temp"`
	SoilPH              float64      `json:"soil_ph"`
	SoilEC              float64      `json:"soil_ec"`
	NPK                 [3]float64   `json:"npk"`
	SolarRadiation      float64      `json:"solar_radiation"`
	AirTemp             float64      `json:"air_temp"`
	AirHumidity         float64      `json:"air_humidity"`
	Pressure            float64      `json:"pressure"`
	WindSpeed           float64      `json:"wind_speed"`
	IsRaining           bool         `json:"is_raining"`
	FlowRate            float64      `json:"flow_rate"`
	CumulativeWaterUsed float64      `json:"cumulative_water_used"`
	Backup              *Backup      `json:"backup,omitempty"`
	Zones               []ZoneReport `json:"zones"`
	Errors              uint8        `json:"errors"`
	Mode                string       `json:"mode"`
}

type Backup struct {
	Moisture float64    `json:"moisture"`
	PH       float64    `json:"pH"`
	NPK      [3]float64 `json:"NPK"`
}

// ZoneReport uses the 1-based wire id; Duration is in milliseconds.
type ZoneReport struct {
	ID        int        `json:"id"`
	Active    bool       `json:"active"`
	StartTime *time.Time `json:"startTime,omitempty"`
	Duration  int64      `json:"duration"`
}

// NewTelemetryPush builds the push body from a snapshot and the zone array.
func NewTelemetryPush(deviceID string, s entities.SensorSnapshot, zones []entities.Zone, errs entities.ErrorFlag, mode entities.Mode) TelemetryPush {
	out := TelemetryPush{
		DeviceID:            deviceID,
		Timestamp:           s.Timestamp,
		SoilMoisture:        s.SoilMoisture,
		SoilTemp:            s.SoilTemp,
		SoilPH:              s.SoilPH,
		SoilEC:              s.SoilEC,
		NPK:                 s.NPK,
		SolarRadiation:      s.SolarRadiation,
		AirTemp:             s.AirTemp,
		AirHumidity:         s.AirHumidity,
		Pressure:            s.Pressure,
		WindSpeed:           s.WindSpeed,
		IsRaining:           s.IsRaining,
		FlowRate:            s.FlowRate,
		CumulativeWaterUsed: s.CumulativeWaterUsed,
		Zones:               make([]ZoneReport, 0, len(zones)),
		Errors:              uint8(errs),
		Mode:                string(mode),
	}
	if s.Backup != (entities.BackupReadings{}) {
		out.Backup = &Backup{Moisture: s.Backup.Moisture, PH: s.Backup.PH, NPK: s.Backup.NPK}
	}
	for _, z := range zones {
		r := ZoneReport{ID: z.ID.WireID(), Active: z.Active}
		if z.Active {
			st := z.StartTime
			r.StartTime = &st
			r.Duration = z.RequestedDuration.Milliseconds()
		}
		out.Zones = append(out.Zones, r)
	}
	return out
}

// PushResponse: in AUTO il coordinator può rispondere con un piano
// {"schedule":{"schedule":[{"zone_id":1,"duration_minutes":10}]}}.
type PushResponse struct {
	Schedule *Schedule `json:"schedule,omitempty"`
}

type Schedule struct {
	Schedule []ScheduleEntry `json:"schedule"`
}

type ScheduleEntry struct {
	ZoneID          int     `json:"zone_id"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// Entries returns the planned entries, nil when the response carries no plan.
func (r PushResponse) Entries() []ScheduleEntry {
	if r.Schedule == nil {
		return nil
	}
	return r.Schedule.Schedule
}
