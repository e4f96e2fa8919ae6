package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/simtempd/internal/attrs"
	"codeberg.org/mutker/simtempd/internal/config"
	"codeberg.org/mutker/simtempd/internal/devnode"
	"codeberg.org/mutker/simtempd/internal/emitter"
	"codeberg.org/mutker/simtempd/internal/errors"
	"codeberg.org/mutker/simtempd/internal/logger"
	"codeberg.org/mutker/simtempd/internal/pid"
	"codeberg.org/mutker/simtempd/internal/sensor"
	"codeberg.org/mutker/simtempd/internal/telemetry"
)

// alertStreamDepth bounds the queue between the sampling engine and the
// MQTT emitter. The engine drops alerts past this depth rather than stall.
const alertStreamDepth = 64

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging()
	logger.Debug().Msg("Config loaded")
}

func initLogging() {
	level := config.LogLevel(cfg.LogLevel)
	logger.Init(level == config.LogLevelDebug, level == config.LogLevelInfo, logger.IsService())
	if level == config.LogLevelError {
		logger.SetLogLevel(logger.ErrorLevel)
	}
}

func main() {
	if err := run(); err != nil {
		logger.ErrorWithCode(err).Msg("Daemon failed")
		os.Exit(1)
	}
	logger.Info().Msg("Exiting...")
}

func run() error {
	errFactory := errors.New()

	if err := pid.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Msgf("Failed to remove pid file: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	opts := []sensor.Option{sensor.WithBufferSize(cfg.BufferSize)}
	var alertStream chan sensor.Sample
	if cfg.MQTTBroker != "" {
		alertStream = make(chan sensor.Sample, alertStreamDepth)
		opts = append(opts, sensor.WithAlertStream(alertStream))
	}

	engine, err := sensor.NewEngine(engineCfg, opts...)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	if err := engine.Start(ctx); err != nil {
		return errFactory.Wrap(errors.ErrStartEngine, err)
	}
	defer engine.Stop()

	logger.Info().
		Str("device", cfg.DeviceID).
		Str("period", engineCfg.Period.String()).
		Int32("threshold_mc", engineCfg.ThresholdMC).
		Str("mode", engineCfg.Mode.String()).
		Msg("Device ready")

	node := devnode.NewServer(engine, cfg.Socket)
	if err := node.Start(ctx); err != nil {
		return err
	}
	defer node.Stop()

	api := attrs.NewServer(engine, cfg.HTTPAddr)
	if err := api.Start(ctx); err != nil {
		return err
	}
	defer api.Stop()

	collector, err := telemetry.NewService(telemetryConfig(), logger.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.ErrorWithCode(err).Msg("Telemetry close failed")
		}
	}()

	if cfg.Telemetry {
		interval := time.Duration(cfg.TelemetryInterval) * time.Second
		recorder := telemetry.NewRunner(engine, collector, interval, logger.Default())
		recorder.Start(ctx)
		defer recorder.Stop()
	}

	if alertStream != nil {
		alerts := emitter.New(emitter.Config{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.DeviceID,
		}, cfg.DeviceID, alertStream)
		if err := alerts.Start(ctx); err != nil {
			return err
		}
		defer alerts.Stop()
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down...")

	return nil
}

func telemetryConfig() telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Enabled = cfg.Telemetry
	if cfg.TelemetryDB != "" {
		tc.DBPath = cfg.TelemetryDB
	}
	tc.Interval = time.Duration(cfg.TelemetryInterval) * time.Second

	return tc
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
