package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/config"
	sensor_simulator "github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/internal/services/telemetry"
	"github.com/LeonardoBeccarini/sdcc_irrigation_node/pkg/sensorbus"
)

var (
	probeAddress int
	probeCommand int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run one bus exchange per probe and print the values",
	Long: `Open the configured bus transport and query the sensors once.

Without --address every configured probe is read; with --address and
--command a single raw exchange is performed.

Examples:
  irrigation-node probe
  irrigation-node probe --address 1 --command 3
  irrigation-node probe --simulate`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeAddress, "address", -1, "Device address (0-255)")
	probeCmd.Flags().IntVar(&probeCommand, "command", -1, "Command code (0-255)")
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	var sim *sensor_simulator.SensorSimulator
	if cfg.Bus.Transport == config.BusSim {
		sim = sensor_simulator.New(sensor_simulator.Config{Probes: cfg.Probes})
	}
	conn, err := openBus(ctx, cfg.Bus, sim)
	if err != nil {
		return fmt.Errorf("open bus (%s): %w", cfg.Bus.Transport, err)
	}
	bus := sensorbus.NewBus(conn, cfg.Bus.Timeout)
	defer bus.Close()

	probes := cfg.Probes
	if len(probes) == 0 {
		probes = telemetry.DefaultProbes()
	}
	if probeAddress >= 0 || probeCommand >= 0 {
		if probeAddress < 0 || probeAddress > 255 || probeCommand < 0 || probeCommand > 255 {
			return fmt.Errorf("--address and --command must both be in 0-255")
		}
		probes = []telemetry.Probe{{Field: "raw", Address: byte(probeAddress), Command: byte(probeCommand)}}
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, p := range probes {
		v, err := bus.Exchange(ctx, p.Address, p.Command)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%-16s addr=0x%02X cmd=0x%02X  ERROR %v\n", p.Field, p.Address, p.Command, err)
			continue
		}
		fmt.Fprintf(out, "%-16s addr=0x%02X cmd=0x%02X  %.2f\n", p.Field, p.Address, p.Command, v)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d exchanges failed", failed, len(probes))
	}
	return nil
}
