// Bulkota pushes a firmware image to many devices at once over MQTT.
//
// Each device announces itself on ota/feedback/<deviceId> and pulls the image
// chunk by chunk; bulkota answers on ota/<deviceId> and keeps every device's
// transfer independent, so slow devices never hold up fast ones.
//
// Usage:
//
//	bulkota [command] [flags]
//
// See 'bulkota --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/bulkota/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bulkota",
	Short: "Bulk OTA firmware uploader over MQTT",
	Long: `Distribute a firmware image to any number of devices over MQTT.

Devices publish "ready" to ota/feedback/<deviceId>; bulkota replies with the
image size on ota/<deviceId> and then streams one checksummed chunk per "ok"
until the device reports "success". Devices may join at any time and are
served concurrently.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Global flags
var (
	configPath string
	logLevel   string
)

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/bulkota/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config and BULKOTA_LOG_LEVEL")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Detailed())
	},
}
