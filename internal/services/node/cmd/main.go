package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	simulate   bool
	deviceID   string
)

var rootCmd = &cobra.Command{
	Use:   "irrigation-node",
	Short: "Irrigation zone controller",
	Long: `irrigation-node reads the soil sensors over the sensor bus, runs the zone
timers and the safety interlocks, and syncs with the coordinator.

Configuration comes from the environment (and .env); --config points to an
optional YAML overlay for zones, probes and safety limits.

Bus transports:
  Serial:    BUS_TRANSPORT=serial SERIAL_PORT=/dev/ttyUSB0 [SERIAL_BAUD=9600]
  WebSocket: BUS_TRANSPORT=websocket BUS_WS_URL=ws://host/ws [BUS_WS_USER=user]
  Simulator: --simulate`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config overlay (default $NODE_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use the in-process sensor/valve simulator")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device-id", "", "Override DEVICE_ID")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
