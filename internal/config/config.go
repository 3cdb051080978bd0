// Package config loads the node configuration from the environment (optionally
// .env) with an optional YAML overlay for zones, probes and safety limits.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/telemetry"
)

const (
	BusSerial    = "serial"
	BusWebSocket = "websocket"
	BusSim       = "sim"
)

type Bus struct {
	Transport  string
	SerialPort string
	SerialBaud int
	WSURL      string
	WSUser     string
	WSPassword string
	WSInsecure bool
	Timeout    time.Duration
}

type Coordinator struct {
	URL               string
	Timeout           time.Duration
	TelemetryInterval time.Duration
	CommandInterval   time.Duration
	JWTSecret         string
}

type MQTT struct {
	Host          string
	Port          int
	User          string
	Password      string
	ClientID      string
	StateTemplate string
	// IOTemplate: frame di pulsi e ingressi della scheda IO (bus reale).
	IOTemplate string
	IOMaxAge   time.Duration
}

type Influx struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
}

type Safety struct {
	FlowMin     float64       `yaml:"flow_min"`
	PressureMax float64       `yaml:"pressure_max"`
	FlowGrace   time.Duration `yaml:"flow_grace"`
}

// Config holds runtime configuration for the node.
type Config struct {
	DeviceID       string            `yaml:"device_id"`
	MaxZones       int               `yaml:"max_zones"`
	TickPeriod     time.Duration     `yaml:"tick_period"`
	SensorInterval time.Duration     `yaml:"sensor_interval"`
	PulsesPerLiter float64           `yaml:"pulses_per_liter"`
	Probes         []telemetry.Probe `yaml:"probes"`
	Safety         Safety            `yaml:"safety"`

	Bus         Bus         `yaml:"-"`
	Coordinator Coordinator `yaml:"-"`
	MQTT        MQTT        `yaml:"-"`
	Influx      Influx      `yaml:"-"`

	CalibrationFile string `yaml:"-"`
	DatabaseURL     string `yaml:"-"`
	StatusAddr      string `yaml:"-"`
	GRPCAddr        string `yaml:"-"`
	Display         bool   `yaml:"-"`
	Simulate        bool   `yaml:"-"`
}

// Load reads configuration from environment variables (optionally .env).
// path, if set, overrides NODE_CONFIG.
func Load(path string) (Config, error) {
	_ = godotenv.Load(".env")

	var errs []error
	e := &envReader{errs: &errs}

	cfg := Config{
		DeviceID:       e.str("DEVICE_ID", "irrigation-node"),
		MaxZones:       e.int("MAX_ZONES", 4),
		TickPeriod:     e.duration("TICK_PERIOD", time.Second),
		SensorInterval: e.duration("SENSOR_INTERVAL", 5*time.Second),
		PulsesPerLiter: e.float("FLOW_PULSES_PER_LITER", telemetry.DefaultPulsesPerLiter),
		Safety: Safety{
			FlowMin:     e.float("FLOW_MIN_THRESHOLD", 0.1),
			PressureMax: e.float("PRESSURE_MAX", 10.0),
			FlowGrace:   e.duration("FLOW_GRACE", 10*time.Second),
		},
		Bus: Bus{
			Transport:  strings.ToLower(e.str("BUS_TRANSPORT", BusSerial)),
			SerialPort: e.str("SERIAL_PORT", "/dev/ttyUSB0"),
			SerialBaud: e.int("SERIAL_BAUD", 9600),
			WSURL:      e.str("BUS_WS_URL", ""),
			WSUser:     e.str("BUS_WS_USER", ""),
			WSPassword: os.Getenv("BUS_WS_PASSWORD"),
			WSInsecure: e.bool("BUS_WS_INSECURE", false),
			Timeout:    e.duration("BUS_TIMEOUT", 100*time.Millisecond),
		},
		Coordinator: Coordinator{
			URL:               e.str("COORDINATOR_URL", ""),
			Timeout:           e.duration("COORDINATOR_TIMEOUT", 3*time.Second),
			TelemetryInterval: e.duration("TELEMETRY_INTERVAL", 5*time.Minute),
			CommandInterval:   e.duration("COMMAND_INTERVAL", 10*time.Second),
			JWTSecret:         os.Getenv("COORDINATOR_JWT_SECRET"),
		},
		MQTT: MQTT{
			Host:          e.str("RABBITMQ_HOST", ""),
			Port:          e.int("RABBITMQ_PORT", 1883),
			User:          e.str("RABBITMQ_USER", ""),
			Password:      os.Getenv("RABBITMQ_PASSWORD"),
			ClientID:      e.str("RABBITMQ_CLIENTID", ""),
			StateTemplate: e.str("EVENT_STATECHANGE_TEMPLATE", "event/StateChange/{device}/{zone}"),
			IOTemplate:    e.str("IO_TOPIC_TEMPLATE", "device/{device}/io"),
			IOMaxAge:      e.duration("IO_MAX_AGE", 30*time.Second),
		},
		Influx: Influx{
			URL:           e.str("INFLUX_URL", ""),
			Token:         os.Getenv("INFLUX_TOKEN"),
			Org:           e.str("INFLUX_ORG", "msut"),
			Bucket:        e.str("INFLUX_BUCKET", "events"),
			BatchSize:     e.int("WRITE_BATCH_SIZE", 10),
			FlushInterval: time.Duration(e.int("WRITE_FLUSH_INTERVAL_MS", 1000)) * time.Millisecond,
		},
		CalibrationFile: e.str("CALIBRATION_FILE", ""),
		DatabaseURL:     e.str("DATABASE_URL", ""),
		StatusAddr:      e.str("STATUS_ADDR", ":8080"),
		GRPCAddr:        e.str("GRPC_ADDR", ":50051"),
		Display:         e.bool("DISPLAY", true),
		Simulate:        e.bool("SIMULATE", false),
	}
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}

	if path == "" {
		path = strings.TrimSpace(os.Getenv("NODE_CONFIG"))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read node config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse node config %s: %w", path, err)
		}
	}

	if cfg.Simulate {
		cfg.Bus.Transport = BusSim
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = cfg.DeviceID
	}
	return cfg, cfg.Validate()
}

// Validate checks the invariants the control loop relies on.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DeviceID) == "" {
		errs = append(errs, errors.New("DEVICE_ID is required"))
	}
	if c.MaxZones <= 0 || c.MaxZones > 255 {
		errs = append(errs, fmt.Errorf("MAX_ZONES %d out of range 1..255", c.MaxZones))
	}
	if c.TickPeriod <= 0 {
		errs = append(errs, errors.New("TICK_PERIOD must be positive"))
	}
	if c.SensorInterval < c.TickPeriod {
		errs = append(errs, fmt.Errorf("SENSOR_INTERVAL %s shorter than TICK_PERIOD %s", c.SensorInterval, c.TickPeriod))
	}
	if c.PulsesPerLiter <= 0 {
		errs = append(errs, errors.New("FLOW_PULSES_PER_LITER must be positive"))
	}
	// la chiamata gira fuori dal tick ma deve chiudersi entro lo slot di poll
	if c.Coordinator.URL != "" && c.Coordinator.Timeout >= c.Coordinator.CommandInterval {
		errs = append(errs, fmt.Errorf("COORDINATOR_TIMEOUT %s must be below COMMAND_INTERVAL %s",
			c.Coordinator.Timeout, c.Coordinator.CommandInterval))
	}
	switch c.Bus.Transport {
	case BusSerial, BusSim:
	case BusWebSocket:
		if c.Bus.WSURL == "" {
			errs = append(errs, errors.New("BUS_WS_URL is required for the websocket transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BUS_TRANSPORT %q", c.Bus.Transport))
	}
	for _, p := range c.Probes {
		if !telemetry.KnownField(p.Field) {
			errs = append(errs, fmt.Errorf("probe for unknown field %q", p.Field))
		}
	}
	return errors.Join(errs...)
}

type envReader struct{ errs *[]error }

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (e *envReader) bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "1" || strings.EqualFold(v, "true")
}
