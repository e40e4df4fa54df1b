// Package ui provides terminal output for the bulkota CLI.
//
// It uses Bubble Tea and Lipgloss for a live transfer view: a header box
// with the run parameters, one progress bar per device as devices report in,
// and a summary box when every device has settled.
//
// # Components
//
//   - Header: command banner showing operation name and parameters
//   - DeviceProgress: one device's progress bar and state marker
//   - TransferModel: Bubble Tea model that consumes ota events
//   - Summary: success/failure box listing finished and abandoned devices
//   - Printer: plain line-per-event output when stdout is not a terminal
//
// # Usage Pattern
//
// The push command creates a TransferModel, hands its Observer to the
// engine, and runs the program until the engine reports that every device
// has settled:
//
//	view := ui.NewTransfer(ui.TransferConfig{Firmware: "firmware.ino.bin", TotalChunks: 17})
//	engine := ota.NewEngine(table, client, ota.WithObserver(view.Observer()))
//	if err := view.Run(ctx); err != nil {
//	    return err
//	}
//
// # Logging Integration
//
// This package expects logging to be controlled via the BULKOTA_LOG_LEVEL
// environment variable. When unset or empty, zap logging is silent, allowing
// the curated UI output to be displayed cleanly.
package ui
