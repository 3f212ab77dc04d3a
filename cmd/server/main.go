package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/config"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "webterm: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse flags
	flags := pflag.NewFlagSet("webterm", pflag.ExitOnError)
	port := flags.StringP("port", "p", "", "Server port (overrides PORT)")
	host := flags.String("host", "", "Listen address (overrides HOST)")
	dev := flags.Bool("dev", false, "Development logging (overrides LOG_DEV)")
	configFile := flags.StringP("config", "c", "", "YAML or TOML config file (overrides CONFIG_FILE)")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *configFile != "" {
		if err := config.ApplyFile(cfg, *configFile); err != nil {
			return err
		}
	}
	if flags.Changed("port") {
		cfg.Server.Port = *port
	}
	if flags.Changed("host") {
		cfg.Server.Host = *host
	}
	if flags.Changed("dev") {
		cfg.Logging.Development = *dev
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	defer func() { _ = logger.Sync() }()

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}
