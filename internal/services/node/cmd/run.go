package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/calibration"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/config"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/metrics"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/model/entities"
	sensor_simulator "github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/coordinator"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/device"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/display"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/event"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/node"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/safety"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/scheduler"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/telemetry"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/sensorbus"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control loop",
	RunE:  runNode,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// loadConfig applies the persistent flags on top of env + YAML.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if simulate {
		cfg.Simulate = true
		cfg.Bus.Transport = config.BusSim
	}
	if deviceID != "" {
		if cfg.MQTT.ClientID == cfg.DeviceID {
			cfg.MQTT.ClientID = deviceID
		}
		cfg.DeviceID = deviceID
	}
	return cfg, nil
}

func mustOwner(errs *entities.ErrorState, f entities.ErrorFlag) entities.FlagOwner {
	o, err := errs.Owner(f)
	if err != nil {
		log.Fatalf("error flags: %v", err)
	}
	return o
}

func loadCalibration(ctx context.Context, cfg config.Config) calibration.Calibration {
	var store calibration.Store
	switch {
	case cfg.DatabaseURL != "":
		pg, err := calibration.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("calibration: postgres unavailable, using defaults: %v", err)
			return calibration.Calibration{}
		}
		defer pg.Close()
		store = pg
	case cfg.CalibrationFile != "":
		store = calibration.FileStore{Path: cfg.CalibrationFile}
	default:
		return calibration.Calibration{}
	}
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cal, err := calibration.Load(loadCtx, store, cfg.DeviceID)
	if err != nil {
		log.Printf("calibration: %v (using defaults)", err)
	}
	return cal
}

// openBus opens the configured transport; sim must be set for BusSim.
func openBus(ctx context.Context, b config.Bus, sim *sensor_simulator.SensorSimulator) (sensorbus.Conn, error) {
	switch b.Transport {
	case config.BusSim:
		return sim.Device, nil
	case config.BusWebSocket:
		password := b.WSPassword
		if password == "" {
			password = os.Getenv("FUSAIN_PASSWORD")
		}
		return sensorbus.OpenWebSocket(ctx, b.WSURL, b.WSUser, password, b.WSInsecure)
	default:
		return sensorbus.OpenSerial(ctx, b.SerialPort, b.SerialBaud)
	}
}

// inputs picks the flow meter and env source: the simulator in-process, or
// the IO board frames on the broker when the bus is real hardware.
func inputs(cfg config.Config, sim *sensor_simulator.SensorSimulator, client mqtt.Client) (telemetry.EnvSource, telemetry.PulseSource, *device.IOInputs, error) {
	if sim != nil {
		return sim, sim.Pulses, nil, nil
	}
	if client == nil {
		return nil, nil, nil, fmt.Errorf("bus %s needs RABBITMQ_HOST: flow meter and env inputs arrive on %s",
			cfg.Bus.Transport, device.IOTopic(cfg.MQTT.IOTemplate, cfg.DeviceID))
	}
	topic := device.IOTopic(cfg.MQTT.IOTemplate, cfg.DeviceID)
	log.Printf("flow meter and env inputs from %s", topic)
	io := device.NewIOInputs(client, topic, cfg.MQTT.IOMaxAge)
	return io, io, io, nil
}

func runNode(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init(prometheus.DefaultRegisterer)
	errs := &entities.ErrorState{}

	// ---- MQTT ----
	var drvRef atomic.Pointer[node.Driver]
	setLink := func(up bool) {
		if d := drvRef.Load(); d != nil {
			d.SetLink(up)
		}
	}
	var client mqtt.Client
	if cfg.MQTT.Host != "" {
		client, err = rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
			Host:             cfg.MQTT.Host,
			Port:             cfg.MQTT.Port,
			User:             cfg.MQTT.User,
			Password:         cfg.MQTT.Password,
			ClientID:         cfg.MQTT.ClientID,
			OnConnect:        func() { setLink(true) },
			OnConnectionLost: func(error) { setLink(false) },
		}, ctx)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer rabbitmq.CloseRabbitMQConn(client)
	}

	// ---- sensori ----
	cal := loadCalibration(ctx, cfg)
	ppl := cal.PulsesPerLiter(cfg.PulsesPerLiter)

	var sim *sensor_simulator.SensorSimulator
	if cfg.Bus.Transport == config.BusSim {
		sim = sensor_simulator.New(sensor_simulator.Config{Probes: cfg.Probes, PulsesPerLiter: ppl})
		sim.Start(ctx)
		log.Printf("simulator enabled: bus, flow meter and relays are in-process")
	}
	conn, err := openBus(ctx, cfg.Bus, sim)
	if err != nil {
		return fmt.Errorf("open bus (%s): %w", cfg.Bus.Transport, err)
	}
	bus := sensorbus.NewBus(conn, cfg.Bus.Timeout)
	defer bus.Close()

	env, pulses, io, err := inputs(cfg, sim, client)
	if err != nil {
		return err
	}
	if io != nil {
		go io.Run(ctx)
	}
	reader := telemetry.NewReader(bus, cfg.Probes, env, pulses, cal,
		telemetry.NewAggregator(ppl), mustOwner(errs, entities.FlagSensorTimeout), cfg.SensorInterval)

	// ---- valvole ----
	var act device.Fanout
	if sim != nil {
		act = append(act, sim.Valves)
	}
	if client != nil {
		factory := func(topic string) rabbitmq.IPublisher { return rabbitmq.NewPublisher(client, topic) }
		act = append(act, device.NewMQTTValves(factory, cfg.DeviceID, cfg.MQTT.StateTemplate))
	}
	if len(act) == 0 {
		act = append(act, device.LogValves{})
	}
	sched := scheduler.New(cfg.MaxZones, act, mustOwner(errs, entities.FlagValveFeedback))
	sched.SetActuationTimeout(cfg.TickPeriod / 2)

	// ---- event log ----
	sinks := event.Multi{event.LogSink{}}
	var writer *event.Writer
	if cfg.Influx.URL != "" {
		opts := influxdb2.DefaultOptions().
			SetBatchSize(uint(cfg.Influx.BatchSize)).
			SetFlushInterval(uint(cfg.Influx.FlushInterval.Milliseconds()))
		influx := influxdb2.NewClientWithOptions(cfg.Influx.URL, cfg.Influx.Token, opts)
		defer influx.Close()
		writer = event.NewWriter(influx.WriteAPI(cfg.Influx.Org, cfg.Influx.Bucket))
		defer writer.Flush()
		sinks = append(sinks, writer)
	}

	deps := node.Deps{
		Reader:    reader,
		Scheduler: sched,
		Planner:   scheduler.NewPlanner(),
		Monitor: safety.NewMonitor(safety.Config{
			FlowMin:     cfg.Safety.FlowMin,
			PressureMax: cfg.Safety.PressureMax,
			FlowGrace:   cfg.Safety.FlowGrace,
		}),
		Events: sinks,
		Errors: errs,
	}
	if cfg.Display {
		deps.Display = display.NewTerminal(os.Stdout)
	}

	// ---- coordinator ----
	var proto *coordinator.Protocol
	if cfg.Coordinator.URL != "" {
		var tokens *coordinator.TokenSource
		if cfg.Coordinator.JWTSecret != "" {
			if tokens, err = coordinator.NewTokenSource(cfg.Coordinator.JWTSecret, cfg.DeviceID, time.Hour); err != nil {
				return fmt.Errorf("coordinator token: %w", err)
			}
		}
		tr := coordinator.NewHTTPTransport(coordinator.HTTPConfig{
			BaseURL:  cfg.Coordinator.URL,
			DeviceID: cfg.DeviceID,
			Timeout:  cfg.Coordinator.Timeout,
			Tokens:   tokens,
		})
		proto = coordinator.New(coordinator.Config{
			PushInterval: cfg.Coordinator.TelemetryInterval,
			PollInterval: cfg.Coordinator.CommandInterval,
			CallTimeout:  cfg.Coordinator.Timeout,
		}, tr, mustOwner(errs, entities.FlagTransport))
		proto.Start(ctx)
		deps.Sync = proto
	} else {
		log.Printf("COORDINATOR_URL not set: running offline")
	}

	drv, err := node.NewDriver(node.Config{
		DeviceID:       cfg.DeviceID,
		TickPeriod:     cfg.TickPeriod,
		SensorInterval: cfg.SensorInterval,
	}, deps)
	if err != nil {
		return err
	}
	drvRef.Store(drv)
	if client != nil {
		drv.SetLink(client.IsConnectionOpen())
		go device.NewModeListener(client, cfg.DeviceID, drv.ModeRequests()).Run(ctx)
	}

	// ---- API locali ----
	var wg sync.WaitGroup
	if cfg.StatusAddr != "" {
		ready := node.Readiness{MQTT: client, MaxStale: 3 * cfg.SensorInterval}
		if writer != nil {
			ready.Events = writer
		}
		api := node.NewServer(cfg.StatusAddr, drv, ready, prometheus.DefaultGatherer)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("status API on %s", cfg.StatusAddr)
			if err := api.Run(ctx); err != nil {
				log.Printf("status API: %v", err)
			}
		}()
	}
	if cfg.GRPCAddr != "" {
		hs := node.NewHealthServer(cfg.GRPCAddr, drv, cfg.TickPeriod)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hs.Run(ctx); err != nil {
				log.Printf("grpc health: %v", err)
			}
		}()
	}

	err = drv.Run(ctx)
	log.Println("shutting down...")
	if proto != nil {
		proto.Wait()
	}
	wg.Wait()
	return err
}
