// Package logging provides structured logging for bulkota.
//
// This package wraps a global zap logger with convenience functions and a few
// OTA-specific helpers.
//
// # Log Levels
//
//   - Debug: Every feedback message and publish, hex dumps of frames
//   - Info: Device ready/finished, broker connection events, run summary
//   - Warn: Device error reports, retries, abandoned devices
//   - Error: Failed publishes, rejected feedback, startup failures
//
// # Structured Logging
//
//	logging.Info("Device ready",
//	    zap.String("device_id", "A4CF12"),
//	    zap.Int("total_chunks", 512),
//	)
//
// Helpers:
//
//	logging.LogFeedback(deviceID, "ok", 17, 512)
//	logging.LogPublish(deviceID, "ota/A4CF12", "chunk", 17, 220)
//	logging.LogConnection("tcp://broker:1883", "connection_up")
//	logging.LogRawBytes("chunk frame", frame)
//
// # Configuration
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// An empty level falls back to the BULKOTA_LOG_LEVEL environment variable;
// with neither set the logger is a no-op. Output goes to stderr so it does
// not interleave with the progress display on stdout.
package logging
