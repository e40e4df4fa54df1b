package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/bulkota/internal/config"
	"github.com/muurk/bulkota/internal/firmware"
	"github.com/muurk/bulkota/internal/logging"
	"github.com/muurk/bulkota/internal/ota"
	"github.com/muurk/bulkota/internal/status"
	"github.com/muurk/bulkota/internal/transport"
	"github.com/muurk/bulkota/internal/ui"
)

// Push command flags
var (
	pushFirmware          string
	pushBroker            string
	pushPort              int
	pushClientID          string
	pushChunkSize         int
	pushQoS               int
	pushTopicPrefix       string
	pushFeedbackPrefix    string
	pushInactivityTimeout time.Duration
	pushMaxRetries        int
	pushStatusListen      string
	pushDiscover          bool
	pushPlain             bool
	pushConnectTimeout    time.Duration
)

const closeTimeout = 5 * time.Second

var pushCmd = &cobra.Command{
	Use:   "push [firmware]",
	Short: "Serve a firmware image to every device that asks for it",
	Long: `Connect to the MQTT broker and serve the firmware image to devices.

Every device that publishes "ready" on its feedback topic receives the image
size, then one chunk per "ok", until it reports "success". The command exits
once every device that announced itself has finished, or has been abandoned
by the inactivity watchdog. It exits non-zero if any device was abandoned.`,
	Example: `  # Serve firmware.ino.bin through the default broker
  bulkota push

  # Serve a specific image through another broker
  bulkota push build/app.bin --broker 10.0.0.2

  # Find the broker via mDNS and expose progress on :8080
  bulkota push --discover --status :8080

  # Re-send stalled chunks after 20s, give up after 5 attempts
  bulkota push --inactivity-timeout 20s --max-retries 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPush,
}

func init() {
	f := pushCmd.Flags()
	f.StringVarP(&pushFirmware, "firmware", "f", "", "Firmware image path (default firmware.ino.bin)")
	f.StringVar(&pushBroker, "broker", "", "Broker host (overrides broker.host)")
	f.IntVar(&pushPort, "port", 0, "Broker port (overrides broker.port)")
	f.StringVar(&pushClientID, "client-id", "", "MQTT client ID (overrides broker.client_id)")
	f.IntVar(&pushChunkSize, "chunk-size", 0, "Payload bytes per chunk (overrides transfer.chunk_size)")
	f.IntVar(&pushQoS, "qos", 0, "MQTT QoS 0-2 (overrides transfer.qos)")
	f.StringVar(&pushTopicPrefix, "topic-prefix", "", "Outbound topic prefix (overrides transfer.topic_prefix)")
	f.StringVar(&pushFeedbackPrefix, "feedback-prefix", "", "Feedback topic prefix (overrides transfer.feedback_prefix)")
	f.DurationVar(&pushInactivityTimeout, "inactivity-timeout", 0, "Re-send to devices silent this long, 0 disables (overrides transfer.inactivity_timeout)")
	f.IntVar(&pushMaxRetries, "max-retries", 0, "Re-sends before a device is abandoned (overrides transfer.max_retries)")
	f.StringVar(&pushStatusListen, "status", "", "Serve /status and /ws on this address (overrides status.listen)")
	f.BoolVar(&pushDiscover, "discover", false, "Find the broker via mDNS instead of broker.host")
	f.BoolVar(&pushPlain, "plain", false, "Print one line per event instead of the live view")
	f.DurationVar(&pushConnectTimeout, "connect-timeout", 30*time.Second, "Give up if the broker is unreachable for this long")

	rootCmd.AddCommand(pushCmd)
}

// applyPushFlags lays the flags the user set over cfg.
func applyPushFlags(cmd *cobra.Command, args []string) func(*config.Config) {
	return func(cfg *config.Config) {
		if len(args) == 1 {
			cfg.Transfer.Firmware = args[0]
		}
		if flagChanged(cmd, "firmware") {
			cfg.Transfer.Firmware = pushFirmware
		}
		if flagChanged(cmd, "broker") {
			cfg.Broker.Host = pushBroker
		}
		if flagChanged(cmd, "port") {
			cfg.Broker.Port = pushPort
		}
		if flagChanged(cmd, "client-id") {
			cfg.Broker.ClientID = pushClientID
		}
		if flagChanged(cmd, "chunk-size") {
			cfg.Transfer.ChunkSize = pushChunkSize
		}
		if flagChanged(cmd, "qos") {
			if pushQoS < 0 || pushQoS > 255 {
				pushQoS = 255 // rejected by Validate
			}
			cfg.Transfer.QoS = byte(pushQoS)
		}
		if flagChanged(cmd, "topic-prefix") {
			cfg.Transfer.TopicPrefix = pushTopicPrefix
		}
		if flagChanged(cmd, "feedback-prefix") {
			cfg.Transfer.FeedbackPrefix = pushFeedbackPrefix
		}
		if flagChanged(cmd, "inactivity-timeout") {
			cfg.Transfer.InactivityTimeout = pushInactivityTimeout
		}
		if flagChanged(cmd, "max-retries") {
			cfg.Transfer.MaxRetries = pushMaxRetries
		}
		if flagChanged(cmd, "status") {
			cfg.Status.Listen = pushStatusListen
		}
		if pushDiscover {
			cfg.Broker.Discover = true
			if !flagChanged(cmd, "broker") {
				cfg.Broker.Host = ""
			}
		}
		if flagChanged(cmd, "log-level") {
			cfg.Log.Level = logLevel
		}
	}
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(applyPushFlags(cmd, args))
	if err != nil {
		return err
	}

	live := !pushPlain && ui.IsTerminal()
	if err := initLogging(cfg, live); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	img, err := firmware.Load(cfg.Transfer.Firmware)
	if err != nil {
		return err
	}
	table, err := firmware.Build(img.Data, cfg.Transfer.ChunkSize)
	if err != nil {
		return fmt.Errorf("failed to chunk %s: %w", img.Name(), err)
	}
	logging.Info("Firmware loaded",
		zap.String("path", img.Path),
		zap.Int("size", img.Size()),
		zap.Int("chunk_size", table.ChunkSize),
		zap.Int("chunks", table.Len()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	brokerURL, err := resolveBroker(ctx, cfg)
	if err != nil {
		return err
	}

	client, err := transport.New(transport.Config{
		BrokerURL:    brokerURL,
		ClientID:     cfg.Broker.ClientID,
		KeepAlive:    cfg.Broker.KeepAliveSeconds(),
		Username:     cfg.Broker.Username,
		Password:     cfg.Broker.Password,
		QoS:          cfg.Transfer.QoS,
		Subscription: ota.SubscriptionFilter(cfg.Transfer.FeedbackPrefix),
	})
	if err != nil {
		return err
	}

	header := ui.NewHeader("Bulk OTA push", "bulkota push",
		ui.Param{Key: "Firmware", Value: fmt.Sprintf("%s (%d bytes)", img.Name(), img.Size())},
		ui.Param{Key: "Chunks", Value: fmt.Sprintf("%d x %d bytes", table.Len(), table.ChunkSize)},
		ui.Param{Key: "Broker", Value: brokerURL},
		ui.Param{Key: "Topics", Value: fmt.Sprintf("%s/<id> <- %s", cfg.Transfer.TopicPrefix, ota.SubscriptionFilter(cfg.Transfer.FeedbackPrefix))},
		ui.Param{Key: "QoS", Value: strconv.Itoa(int(cfg.Transfer.QoS))},
	)
	view := ui.NewTransfer(ui.TransferConfig{
		Header:      header,
		Firmware:    img.Name(),
		TotalChunks: table.Len(),
		Plain:       !live,
		Output:      cmd.OutOrStdout(),
	})

	registry := ota.NewRegistry()
	opts := []ota.Option{
		ota.WithRegistry(registry),
		ota.WithTopicPrefix(cfg.Transfer.TopicPrefix),
		ota.WithQoS(cfg.Transfer.QoS),
		ota.WithObserver(view.Observer()),
	}

	var statusServer *status.Server
	if cfg.Status.Listen != "" {
		statusServer = status.New(status.Config{Listen: cfg.Status.Listen}, registry, status.FirmwareInfo{
			Name:        img.Name(),
			Size:        img.Size(),
			ChunkSize:   table.ChunkSize,
			TotalChunks: table.Len(),
		})
		opts = append(opts, ota.WithObserver(statusServer.Observer()))
	}

	engine := ota.NewEngine(table, client, opts...)
	dispatcher := ota.NewDispatcher(cfg.Transfer.FeedbackPrefix, engine)
	client.OnMessage(dispatcher.Dispatch)

	if statusServer != nil {
		if err := statusServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				logging.Warn("Status server shutdown failed", zap.Error(err))
			}
		}()
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, pushConnectTimeout)
	err = client.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logging.Warn("MQTT disconnect failed", zap.Error(err))
		}
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	go func() {
		select {
		case <-client.Done():
			logging.Error("MQTT connection manager stopped")
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	if cfg.Transfer.InactivityTimeout > 0 {
		watchdog := ota.NewWatchdog(engine, cfg.Transfer.InactivityTimeout, cfg.Transfer.MaxRetries)
		go watchdog.Run(runCtx)
	}

	start := time.Now()
	err = view.Run(runCtx)

	select {
	case <-engine.Done():
	default:
		if err == nil || errors.Is(err, ui.ErrInterrupted) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("interrupted before all devices finished")
		}
		return err
	}

	result := engine.Result()
	fmt.Fprintln(cmd.OutOrStdout(), ui.NewSummary(result, img.Name(), time.Since(start)).Render())

	if !result.OK() {
		return fmt.Errorf("%d device(s) abandoned: %v", len(result.Abandoned), result.Abandoned)
	}
	return nil
}
