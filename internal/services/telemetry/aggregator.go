package telemetry

import (
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
)

// DefaultPulsesPerLiter matches a YF-S201 hall-effect meter.
const DefaultPulsesPerLiter = 450.0

// Aggregator collects one cycle of readings into a SensorSnapshot.
// Values not written in a cycle carry over; flow rate does not.
type Aggregator struct {
	pulsesPerLiter float64

	current     entities.SensorSnapshot
	flowRate    float64
	cumulative  float64
	cycleErrors map[Field]error
}

func NewAggregator(pulsesPerLiter float64) *Aggregator {
	if pulsesPerLiter <= 0 {
		pulsesPerLiter = DefaultPulsesPerLiter
	}
	return &Aggregator{pulsesPerLiter: pulsesPerLiter, cycleErrors: map[Field]error{}}
}

func (a *Aggregator) PulsesPerLiter() float64 { return a.pulsesPerLiter }

// BeginCycle clears the per-cycle errors and the flow rate.
func (a *Aggregator) BeginCycle() {
	clear(a.cycleErrors)
	a.flowRate = 0
}

// Record stores one successfully decoded reading.
func (a *Aggregator) Record(f Field, v float64) error {
	s := &a.current
	switch f {
	case FieldSoilMoisture:
		s.SoilMoisture = v
	case FieldSoilTemp:
		s.SoilTemp = v
	case FieldSoilPH:
		s.SoilPH = v
	case FieldSoilEC:
		s.SoilEC = v
	case FieldNitrogen:
		s.NPK[0] = v
	case FieldPhosphorus:
		s.NPK[1] = v
	case FieldPotassium:
		s.NPK[2] = v
	case FieldSolarRadiation:
		s.SolarRadiation = v
	case FieldAirTemp:
		s.AirTemp = v
	case FieldAirHumidity:
		s.AirHumidity = v
	case FieldPressure:
		s.Pressure = v
	case FieldWindSpeed:
		s.WindSpeed = v
	case FieldBackupMoisture:
		s.Backup.Moisture = v
	case FieldBackupPH:
		s.Backup.PH = v
	case FieldBackupNPK:
		// un solo canale analogico per le tre componenti
		s.Backup.NPK = [3]float64{v, v, v}
	default:
		return fmt.Errorf("telemetry: unknown field %q", f)
	}
	return nil
}

func (a *Aggregator) RecordRain(raining bool) { a.current.IsRaining = raining }

// RecordError remembers a failed read for this cycle; the previous value is kept.
func (a *Aggregator) RecordError(f Field, err error) { a.cycleErrors[f] = err }

// CycleErrors returns the read failures of the current cycle.
func (a *Aggregator) CycleErrors() map[Field]error { return a.cycleErrors }

// IntegrateFlow converts the pulses accrued over interval into L/min and adds
// the liters to the cumulative total, which never decreases.
func (a *Aggregator) IntegrateFlow(pulses uint64, interval time.Duration) float64 {
	if interval <= 0 {
		a.flowRate = 0
		return 0
	}
	rate := float64(pulses) / a.pulsesPerLiter / interval.Minutes()
	a.flowRate = rate
	a.cumulative += rate * float64(interval.Milliseconds()) / 60000.0
	return rate
}

// Finalize returns the snapshot for this cycle.
func (a *Aggregator) Finalize(now time.Time) entities.SensorSnapshot {
	a.current.Timestamp = now
	a.current.FlowRate = a.flowRate
	a.current.CumulativeWaterUsed = a.cumulative
	return a.current
}
