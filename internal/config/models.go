package config

import (
	"fmt"
	"time"
)

// Config is the complete bulkota configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Broker   BrokerConfig   `yaml:"broker"`
	Transfer TransferConfig `yaml:"transfer"`
	Status   StatusConfig   `yaml:"status"`
	Log      LogConfig      `yaml:"log"`
}

// BrokerConfig describes the MQTT broker connection.
type BrokerConfig struct {
	Host      string        `yaml:"host"`       // Broker hostname or IP (empty = discover via mDNS)
	Port      int           `yaml:"port"`       // Broker TCP port
	ClientID  string        `yaml:"client_id"`  // MQTT client identifier
	KeepAlive time.Duration `yaml:"keep_alive"` // MQTT keep-alive interval
	Username  string        `yaml:"username,omitempty"`
	Password  string        `yaml:"password,omitempty"` // Never written by Save

	// Discover enables mDNS broker lookup when Host is empty.
	Discover        bool          `yaml:"discover"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`
}

// TransferConfig holds the OTA protocol parameters.
type TransferConfig struct {
	Firmware       string `yaml:"firmware"`        // Firmware image path
	ChunkSize      int    `yaml:"chunk_size"`      // Payload bytes per chunk
	QoS            byte   `yaml:"qos"`             // MQTT delivery level for publishes and subscription
	TopicPrefix    string `yaml:"topic_prefix"`    // Outbound topic is <prefix>/<deviceId>
	FeedbackPrefix string `yaml:"feedback_prefix"` // Feedback topic is <prefix>/<deviceId>

	// InactivityTimeout enables the stalled-device watchdog when positive.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
}

// StatusConfig controls the optional status endpoint.
type StatusConfig struct {
	Listen string `yaml:"listen"` // host:port, empty = disabled
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Defaults returns a configuration with every field set to its default.
func Defaults() *Config {
	return &Config{
		Version: CurrentVersion,
		Broker: BrokerConfig{
			Host:            "192.168.137.101",
			Port:            1883,
			ClientID:        "ota-uploader",
			KeepAlive:       60 * time.Second,
			Discover:        false,
			DiscoverTimeout: 5 * time.Second,
		},
		Transfer: TransferConfig{
			Firmware:          "firmware.ino.bin",
			ChunkSize:         200,
			QoS:               1,
			TopicPrefix:       "ota",
			FeedbackPrefix:    "ota/feedback",
			InactivityTimeout: 0,
			MaxRetries:        3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// BrokerURL returns the broker address as an MQTT URL.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("mqtt://%s:%d", c.Broker.Host, c.Broker.Port)
}

// KeepAliveSeconds returns the keep-alive interval in whole seconds, clamped
// to the 16-bit MQTT field.
func (b *BrokerConfig) KeepAliveSeconds() uint16 {
	secs := int64(b.KeepAlive / time.Second)
	switch {
	case secs < 0:
		return 0
	case secs > 65535:
		return 65535
	default:
		return uint16(secs)
	}
}
