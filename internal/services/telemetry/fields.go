package telemetry

// Field names one reading of the snapshot.
type Field string

const (
	FieldSoilMoisture   Field = "soil_moisture"
	FieldSoilTemp       Field = "soil_temp"
	FieldSoilPH         Field = "soil_ph"
	FieldSoilEC         Field = "soil_ec"
	FieldNitrogen       Field = "npk_n"
	FieldPhosphorus     Field = "npk_p"
	FieldPotassium      Field = "npk_k"
	FieldSolarRadiation Field = "solar_radiation"
	FieldAirTemp        Field = "air_temp"
	FieldAirHumidity    Field = "air_humidity"
	FieldPressure       Field = "pressure"
	FieldWindSpeed      Field = "wind_speed"

	// ingressi analogici di riserva, letti accanto al bus
	FieldBackupMoisture Field = "backup_moisture"
	FieldBackupPH       Field = "backup_ph"
	FieldBackupNPK      Field = "backup_npk"
)

// Indirizzi e comandi dei sensori RS-485.
const (
	SoilSensorAddr  byte = 0x01
	SolarSensorAddr byte = 0x02

	CmdReadMoisture byte = 0x01
	CmdReadTemp     byte = 0x02
	CmdReadPH       byte = 0x03
	CmdReadNPK      byte = 0x04
	CmdReadEC       byte = 0x05
	CmdReadSolar    byte = 0x01
)

// Probe is one bus exchange producing one field.
type Probe struct {
	Field   Field `yaml:"field"`
	Address byte  `yaml:"address"`
	Command byte  `yaml:"command"`
}

// DefaultProbes is the soil + solar sensor layout. NPK is three consecutive
// CmdReadNPK exchanges answered in N, P, K order.
func DefaultProbes() []Probe {
	return []Probe{
		{FieldSoilMoisture, SoilSensorAddr, CmdReadMoisture},
		{FieldSoilTemp, SoilSensorAddr, CmdReadTemp},
		{FieldSoilPH, SoilSensorAddr, CmdReadPH},
		{FieldNitrogen, SoilSensorAddr, CmdReadNPK},
		{FieldPhosphorus, SoilSensorAddr, CmdReadNPK},
		{FieldPotassium, SoilSensorAddr, CmdReadNPK},
		{FieldSoilEC, SoilSensorAddr, CmdReadEC},
		{FieldSolarRadiation, SolarSensorAddr, CmdReadSolar},
	}
}

// KnownField reports whether f is a field the aggregator stores.
func KnownField(f Field) bool {
	switch f {
	case FieldSoilMoisture, FieldSoilTemp, FieldSoilPH, FieldSoilEC,
		FieldNitrogen, FieldPhosphorus, FieldPotassium, FieldSolarRadiation,
		FieldAirTemp, FieldAirHumidity, FieldPressure, FieldWindSpeed,
		FieldBackupMoisture, FieldBackupPH, FieldBackupNPK:
		return true
	}
	return false
}
