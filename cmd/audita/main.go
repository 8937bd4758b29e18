package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"audita/internal/platform/config"
	"audita/internal/platform/logger"
)

// Set at build time with -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const appName = "audita"

// main wires the commands and leaves every domain decision to internal
// packages.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// globals are the flags shared by every command.
type globals struct {
	logLevel  string
	logFormat string
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Compliance audit rule engine",
		Long: `Audita applies audit procedures to a population of subjects, records
findings with their evidence and proposed forwardings, and aggregates the
results into cross tabulations.

Runs are persisted as versioned snapshots that the tables, summary and serve
commands read back.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides AUDITA_LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format (text, json); overrides AUDITA_LOG_FORMAT")

	cmd.AddCommand(
		runCmd(g),
		tablesCmd(g),
		summaryCmd(g),
		serveCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

// setup loads the environment configuration and builds the logger. Logs go
// to stderr so stdout can carry reports and CSV.
func (g *globals) setup(stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	log := logger.New(stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)
	return cfg, log, nil
}
