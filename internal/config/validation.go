package config

import (
	"errors"
	"fmt"
	"strings"
)

const maxChunkSize = 65535

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Validate checks every field and returns all problems joined together.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Broker.Host == "" && !c.Broker.Discover {
		add("broker.host", "must be set unless broker.discover is enabled")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		add("broker.port", "must be between 1 and 65535, got %d", c.Broker.Port)
	}
	if c.Broker.ClientID == "" {
		add("broker.client_id", "must not be empty")
	}
	if c.Broker.KeepAlive < 0 {
		add("broker.keep_alive", "must not be negative")
	}
	if c.Broker.Discover && c.Broker.DiscoverTimeout <= 0 {
		add("broker.discover_timeout", "must be positive when discovery is enabled")
	}

	if c.Transfer.ChunkSize < 1 || c.Transfer.ChunkSize > maxChunkSize {
		add("transfer.chunk_size", "must be between 1 and %d, got %d", maxChunkSize, c.Transfer.ChunkSize)
	}
	if c.Transfer.QoS > 2 {
		add("transfer.qos", "must be 0, 1 or 2, got %d", c.Transfer.QoS)
	}
	if err := validateTopicPrefix(c.Transfer.TopicPrefix); err != "" {
		add("transfer.topic_prefix", "%s", err)
	}
	if err := validateTopicPrefix(c.Transfer.FeedbackPrefix); err != "" {
		add("transfer.feedback_prefix", "%s", err)
	}
	if c.Transfer.InactivityTimeout < 0 {
		add("transfer.inactivity_timeout", "must not be negative")
	}
	if c.Transfer.MaxRetries < 0 {
		add("transfer.max_retries", "must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "must be debug, info, warn or error, got %q", c.Log.Level)
	}

	return errors.Join(errs...)
}

func validateTopicPrefix(prefix string) string {
	switch {
	case prefix == "":
		return "must not be empty"
	case strings.ContainsAny(prefix, "#+"):
		return "must not contain MQTT wildcards"
	case strings.HasSuffix(prefix, "/"):
		return "must not end with /"
	}
	return ""
}
