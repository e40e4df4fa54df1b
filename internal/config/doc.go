// Package config loads and validates the bulkota configuration file.
//
// The configuration is a YAML file holding broker connection settings,
// transfer parameters and optional features. Every value has a default, so
// the file is optional; CLI flags override whatever the file sets.
//
// # Configuration File Location
//
// Unless --config names a file, the configuration is read from:
//   - Linux: $XDG_CONFIG_HOME/bulkota/config.yaml or $HOME/.config/bulkota/config.yaml
//   - macOS: $HOME/.config/bulkota/config.yaml
//   - Windows: %LOCALAPPDATA%\bulkota\config.yaml
//
// # Example
//
//	version: 1
//	broker:
//	  host: 192.168.137.101
//	  port: 1883
//	  client_id: ota-uploader
//	  keep_alive: 60s
//	transfer:
//	  firmware: firmware.ino.bin
//	  chunk_size: 200
//	  qos: 1
//	  inactivity_timeout: 30s
//	  max_retries: 3
//	status:
//	  listen: 127.0.0.1:8088
//	log:
//	  level: info
//
// # Chunk Size
//
// The default chunk size is 200 bytes, matching the receive buffer of the
// reference device firmware. Larger values (up to 65535) work only if the
// device firmware and the broker's maximum packet size allow them.
//
// # Security
//
// Broker passwords are never written by Save; set them in the file by hand
// or pass them on the command line.
package config
