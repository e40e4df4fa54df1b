package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/bulkota/internal/config"
	"github.com/muurk/bulkota/internal/discovery"
	"github.com/muurk/bulkota/internal/logging"
)

// loadConfig reads the config file and validates it after apply has laid
// command-line overrides on top.
func loadConfig(apply func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// initLogging picks the log level: --log-level, then BULKOTA_LOG_LEVEL, then
// the config file. When quietDefault is set (a live terminal view is
// running) the config file level is ignored so log lines do not tear the
// display.
func initLogging(cfg *config.Config, quietDefault bool) error {
	level := logLevel
	if level == "" {
		level = os.Getenv(logging.LogLevelEnvVar)
	}
	if level == "" && !quietDefault && cfg != nil {
		level = cfg.Log.Level
	}
	return logging.Initialize(level)
}

// resolveBroker returns the broker URL, looking it up over mDNS when the
// host is empty and discovery is enabled.
func resolveBroker(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Broker.Host != "" {
		return cfg.BrokerURL(), nil
	}
	if !cfg.Broker.Discover {
		return "", fmt.Errorf("no broker host configured (set broker.host or enable broker.discover)")
	}

	logging.Info("Discovering MQTT broker via mDNS",
		zap.Duration("timeout", cfg.Broker.DiscoverTimeout),
	)
	svc, err := discovery.FindBroker(ctx, cfg.Broker.DiscoverTimeout)
	if err != nil {
		return "", fmt.Errorf("broker discovery failed: %w", err)
	}
	logging.Info("Discovered broker",
		zap.String("instance", svc.Instance),
		zap.String("address", svc.Address()),
	)
	return svc.BrokerURL(), nil
}

// flagChanged reports whether the user set name on cmd.
func flagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}
