package entities

import "time"

// SensorSnapshot is one consistent set of readings for a read cycle.
// It is passed by value; a new cycle replaces it entirely.
type SensorSnapshot struct {
	Timestamp           time.Time
	SoilMoisture        float64
	SoilTemp            float64
	SoilPH              float64
	SoilEC              float64
	NPK                 [3]float64
	SolarRadiation      float64
	AirTemp             float64
	AirHumidity         float64
	Pressure            float64
	WindSpeed           float64
	IsRaining           bool
	FlowRate            float64 // L/min
	CumulativeWaterUsed float64 // L
	Backup              BackupReadings
}

// BackupReadings are the analog fallback probes; zero when not wired.
type BackupReadings struct {
	Moisture float64
	PH       float64
	NPK      [3]float64
}
