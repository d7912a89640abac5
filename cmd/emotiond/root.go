package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/emotion.yaml"

// Version is the application version.
var Version = "0.1.0"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:     "emotiond",
	Short:   "Real-time facial emotion classification sensor",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger(debug)
	},
	SilenceUsage: true,
}

func Execute() {
	// Ctrl+C or SIGTERM cancels the command context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func setupLogger(debug bool) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}
