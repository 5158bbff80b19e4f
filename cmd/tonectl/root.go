package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/tone-stabilizer/internal/config"
	"github.com/danielpatrickdp/tone-stabilizer/internal/logging"
	"github.com/danielpatrickdp/tone-stabilizer/internal/telemetry"
)

// Version is injected via ldflags at build time.
var Version = "dev"

var (
	cfgFile   string
	logLevel  string
	logFormat string
	otelFlag  bool

	// Resolved in PersistentPreRunE.
	cfg          *config.Config
	logger       zerolog.Logger
	otelShutdown func(context.Context) error
)

func resolvedVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// #region root
var rootCmd = &cobra.Command{
	Use:   "tonectl",
	Short: "Stabilize per-turn tone vectors for a conversational agent",
	Long: `tonectl runs the tone stabilization pipeline: spike rejection, confidence-weighted
smoothing, slew limiting, drift regularization against session history, and
fusion with the safety verdict.

All logs go to stderr so stdout stays a clean response stream.`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(cfgFile)
		if err != nil {
			return err
		}
		flags := cmd.Root().PersistentFlags()
		_ = v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
		_ = v.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
		_ = v.BindPFlag(config.KeyOTelEnabled, flags.Lookup("otel"))

		cfg, err = config.LoadFrom(v)
		if err != nil {
			return err
		}
		logger = logging.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)

		shutdown, err := telemetry.Setup("tone-stabilizer", resolvedVersion(), cfg.OTelEnabled, os.Stderr)
		if err != nil {
			return fmt.Errorf("initializing OpenTelemetry: %w", err)
		}
		otelShutdown = shutdown
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tone.config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&otelFlag, "otel", false, "enable OpenTelemetry (traces and metrics to stderr)")

	rootCmd.AddCommand(runCmd, replayCmd, inspectCmd)
}

// Execute runs the root command and flushes OTel on exit.
func Execute() error {
	err := rootCmd.Execute()
	if otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(ctx)
	}
	return err
}

// #endregion root
