// Standalone sensor-bus simulator: serves the soil and solar sensors over a
// WebSocket bridge and mirrors valve state from the broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	sensorSimulator "github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/device"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/rabbitmq"
)

var (
	addr     string
	deviceID string
	user     string
	mqttHost string
	mqttPort int
	lat, lon float64
	ioTopic  string
	ioPeriod time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "sensor-sim",
	Short: "Sensor bus simulator behind a WebSocket bridge",
	Long: `sensor-sim answers sensor-bus requests on /ws as the soil and solar
devices would, so a node can run with BUS_TRANSPORT=websocket.

With a broker it also plays the IO board: flow-meter pulses and env inputs
are published on the node's io topic every --io-period.

The bridge password is read from SIM_BRIDGE_PASSWORD; broker credentials
from RABBITMQ_USER and RABBITMQ_PASSWORD.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":8765", "Bridge listen address")
	rootCmd.Flags().StringVar(&deviceID, "device-id", "irrigation-node", "Node whose StateChange events drive the relays")
	rootCmd.Flags().StringVar(&user, "user", "", "Bridge basic-auth user")
	rootCmd.Flags().StringVar(&mqttHost, "mqtt-host", "", "Broker host (empty: no broker)")
	rootCmd.Flags().IntVar(&mqttPort, "mqtt-port", 1883, "Broker port")
	rootCmd.Flags().Float64Var(&lat, "lat", 0, "Latitude for the SoilGrids seed")
	rootCmd.Flags().Float64Var(&lon, "lon", 0, "Longitude for the SoilGrids seed")
	rootCmd.Flags().StringVar(&ioTopic, "io-topic", device.DefaultIOTemplate, "IO frame topic template")
	rootCmd.Flags().DurationVar(&ioPeriod, "io-period", time.Second, "IO frame period")
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := sensorSimulator.New(sensorSimulator.Config{Latitude: lat, Longitude: lon})
	sim.Start(ctx)

	if mqttHost != "" {
		client, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
			Host:     mqttHost,
			Port:     mqttPort,
			User:     os.Getenv("RABBITMQ_USER"),
			Password: os.Getenv("RABBITMQ_PASSWORD"),
			ClientID: "sensor-sim-" + deviceID,
		}, ctx)
		if err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		defer rabbitmq.CloseRabbitMQConn(client)
		go sim.FollowBroker(ctx, client, "event/StateChange/{device}/{zone}", deviceID)
		go sim.PublishIO(ctx, client, device.IOTopic(ioTopic, deviceID), ioPeriod)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", sensorSimulator.NewBridge(sim.Device, user, os.Getenv("SIM_BRIDGE_PASSWORD")))
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("sensor-sim: bridge on %s/ws", addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Println("sensor-sim: shutting down...")
	shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return hs.Shutdown(shCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
