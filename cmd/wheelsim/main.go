// Package main runs the simulated motor-driver service used for bench and
// integration testing of the drive controller.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/logging"
	"github.com/ez-Support/swd-ros-controllers/internal/wheelsim"
)

func main() {
	configPath := pflag.String("config", os.Getenv("WHEELSIM_CONFIG"), "path to the simulator YAML configuration")
	logLevel := pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	pflag.Parse()

	logger, err := logging.New(config.LogConfig{Level: *logLevel, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := wheelsim.Load(*configPath)
	if err != nil {
		logger.Fatalw("failed to load configuration", "error", err)
	}
	logger.Infow("starting wheel simulator", "mode", cfg.Mode, "nodes", len(cfg.Nodes), "port", cfg.HTTP.Port)

	sim := wheelsim.New(cfg, wheelsim.WithLogger(logger.Named("sim")))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      sim.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)
	go func() {
		logger.Infow("serving JSON-RPC", "addr", httpServer.Addr, "path", cfg.HTTP.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var maintenance *wheelsim.MaintenanceServer
	if cfg.Maintenance.Port > 0 {
		maintenance = wheelsim.NewMaintenanceServer(sim)
		go func() {
			if err := maintenance.ListenAndServe(); err != nil {
				serverErr <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Infow("shutting down", "signal", sig.String())
	case err := <-serverErr:
		logger.Errorw("HTTP server failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warnw("HTTP server shutdown error", "error", err)
	}
	if maintenance != nil {
		if err := maintenance.Close(); err != nil {
			logger.Warnw("maintenance server shutdown error", "error", err)
		}
	}
	if err := sim.Close(); err != nil {
		logger.Warnw("simulator shutdown error", "error", err)
	}
	logger.Info("simulator stopped")
}
