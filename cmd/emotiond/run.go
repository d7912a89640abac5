package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/e7canasta/emotion-sensor/internal/config"
	"github.com/e7canasta/emotion-sensor/internal/core"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sensor: capture, detect, classify and publish",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runService(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting emotion service",
		"config", configPath,
		"instance_id", cfg.InstanceID,
		"debug", debug,
	)

	svc, err := core.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create emotion service: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx) // Always send, even if nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case runErr = <-errChan:
		if runErr != nil {
			slog.Error("service error", "error", runErr)
		} else {
			slog.Info("service stopped (via MQTT shutdown command)")
		}
	}

	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("emotion service stopped successfully")
	return runErr
}
