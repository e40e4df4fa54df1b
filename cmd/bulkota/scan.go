package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/bulkota/internal/discovery"
)

// Scan command flags
var (
	scanTimeout time.Duration
	scanDevices bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for MQTT brokers (and OTA devices) on the network",
	Long: `Scan for MQTT brokers using mDNS/DNS-SD discovery.

Brokers are found through their "_mqtt._tcp" advertisement. With --devices,
ArduinoOTA devices advertising "_arduino._tcp" are listed too.`,
	Example: `  # Scan for 5 seconds (default)
  bulkota scan

  # Longer scan, including devices
  bulkota scan --timeout 15s --devices`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "Scan timeout")
	scanCmd.Flags().BoolVar(&scanDevices, "devices", false, "Also list ArduinoOTA devices")

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := initLogging(nil, false); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanning for MQTT brokers (timeout: %s)...\n\n", scanTimeout)

	brokers, err := discovery.ScanBrokers(cmd.Context(), scanTimeout)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(brokers) == 0 {
		fmt.Fprintln(out, "No brokers found.")
		fmt.Fprintln(out, "\nTroubleshooting:")
		fmt.Fprintln(out, "  - Ensure the broker host advertises _mqtt._tcp (e.g. an Avahi service file)")
		fmt.Fprintln(out, "  - Verify this machine is on the same network segment")
		fmt.Fprintln(out, "  - Try increasing --timeout for slower networks")
		fmt.Fprintln(out, "  - Set broker.host in the config file if discovery is not available")
	} else {
		printServices(out, "broker", brokers, true)
	}

	if !scanDevices {
		return nil
	}

	fmt.Fprintf(out, "Scanning for OTA devices (timeout: %s)...\n\n", scanTimeout)
	devices, err := discovery.ScanDevices(cmd.Context(), scanTimeout)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices found.")
		return nil
	}
	printServices(out, "device", devices, false)
	return nil
}

func printServices(out io.Writer, kind string, services []*discovery.Service, broker bool) {
	fmt.Fprintf(out, "Found %d %s(s):\n\n", len(services), kind)
	for i, svc := range services {
		fmt.Fprintf(out, "%d. %s\n", i+1, svc.Instance)
		fmt.Fprintf(out, "   Host:     %s\n", svc.Hostname)
		fmt.Fprintf(out, "   Address:  %s\n", svc.Address())
		if broker {
			fmt.Fprintf(out, "   URL:      %s\n", svc.BrokerURL())
		} else if board := svc.GetMetadata("board"); board != "" {
			fmt.Fprintf(out, "   Board:    %s\n", board)
		}
		if len(svc.Metadata) > 0 {
			fmt.Fprintf(out, "   Metadata: %v\n", svc.Metadata)
		}
		fmt.Fprintln(out)
	}
}
