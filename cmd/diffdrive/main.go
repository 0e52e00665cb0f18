// Package main runs the differential-drive controller: two motor channels,
// the control loop, the MQTT bridge and the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ez-Support/swd-ros-controllers/internal/api"
	"github.com/ez-Support/swd-ros-controllers/internal/audit"
	"github.com/ez-Support/swd-ros-controllers/internal/auth"
	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/drive"
	"github.com/ez-Support/swd-ros-controllers/internal/logging"
	"github.com/ez-Support/swd-ros-controllers/internal/metrics"
	"github.com/ez-Support/swd-ros-controllers/internal/telemetry"
	"github.com/ez-Support/swd-ros-controllers/internal/transport/mqtt"
)

func main() {
	configPath := pflag.String("config", os.Getenv("DDC_CONFIG"), "path to the controller YAML configuration")
	pflag.Parse()

	// Step 1: Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Step 2: Initialize logging
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Infow("starting differential drive controller", "version", api.Version, "config", *configPath)
	for _, w := range cfg.Params.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 3: Build and initialize both motor channels
	left, err := buildChannel(ctx, "left", cfg.Params.Left)
	if err != nil {
		logger.Fatalw("left motor channel", "error", err)
	}
	right, err := buildChannel(ctx, "right", cfg.Params.Right)
	if err != nil {
		logger.Fatalw("right motor channel", "error", err)
	}
	logger.Infow("motor channels ready",
		"left", cfg.Params.Left.Motor.Kind, "right", cfg.Params.Right.Motor.Kind)

	// Step 4: Metrics, audit journal and telemetry hub
	m := metrics.New()

	var auditLogger *audit.Logger
	if cfg.Audit.Path != "" {
		auditLogger, err = audit.NewLogger(cfg.Audit, logger.Named("audit"))
		if err != nil {
			logger.Fatalw("failed to initialize audit logger", "error", err)
		}
		logger.Infow("audit journal enabled", "path", auditLogger.Path())
	}

	hub := telemetry.NewHub(cfg.Telemetry, logger.Named("telemetry"))
	publishers := drive.FanOut{hub}

	// Step 5: MQTT bridge. It publishes from the start and receives
	// commands once the controller exists.
	var bridge *mqtt.Bridge
	if cfg.MQTT.Broker != "" {
		bridge, err = mqtt.New(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			logger.Fatalw("failed to create mqtt bridge", "error", err)
		}
		publishers = append(publishers, bridge)
	}

	// Step 6: Create the controller
	env := drive.Env{
		Logger:    logger.Named("drive"),
		Metrics:   m,
		Publisher: publishers,
	}
	if auditLogger != nil {
		env.Audit = auditLogger
	}
	ctrl, err := drive.New(ctx, &cfg.Params, cfg.Timing, left, right, env)
	if err != nil {
		logger.Fatalw("failed to create controller", "error", err)
	}
	if bridge != nil {
		if err := bridge.Start(ctx, ctrl); err != nil {
			logger.Fatalw("failed to start mqtt bridge", "error", err)
		}
	}

	// Step 7: Run the control loop
	loopDone := make(chan error, 1)
	go func() { loopDone <- ctrl.Run(ctx) }()

	// Step 8: HTTP API
	verifier, err := buildVerifier(cfg.Auth)
	if err != nil {
		logger.Fatalw("failed to configure authentication", "error", err)
	}
	opts := []api.Option{
		api.WithAuth(auth.NewMiddleware(verifier)),
		api.WithTelemetry(hub),
		api.WithMetrics(m.Handler()),
		api.WithLogger(logger.Named("api")),
	}
	if bridge != nil {
		opts = append(opts, api.WithBroker(bridge))
	}
	server := api.NewServer(cfg.HTTP, ctrl, opts...)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	logger.Infow("controller started", "addr", cfg.HTTP.Addr, "mode", ctrl.Mode().String())

	// Wait for shutdown signal, server error or loop exit
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		logger.Errorw("HTTP server failed", "error", err)
	case err := <-loopDone:
		logger.Errorw("control loop exited", "error", err)
		loopDone <- err
	}
	stop()

	// Graceful shutdown: the loop zeroes both wheels before returning.
	select {
	case err := <-loopDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warnw("control loop error", "error", err)
		}
	case <-time.After(5 * time.Second):
		logger.Warn("control loop did not stop in time")
	}

	if bridge != nil {
		bridge.Stop()
	}
	hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warnw("error stopping HTTP server", "error", err)
	}

	if auditLogger != nil {
		if err := auditLogger.Close(); err != nil {
			logger.Warnw("error closing audit logger", "error", err)
		}
	}
	logger.Info("controller shutdown complete")
}

func buildVerifier(cfg config.AuthConfig) (*auth.Verifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return auth.NewVerifierFromConfig(cfg)
}
