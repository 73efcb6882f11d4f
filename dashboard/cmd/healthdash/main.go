// Command healthdash is the terminal client of the health dashboard.
//
// # Usage
//
//	healthdash watch --origin https://dash.pilot.net
//
// # Configuration
//
// Configuration can be provided via:
// - Command-line flags
// - Environment variables (HEALTHDASH_*)
// - Config file (--config)
//
// # Examples
//
// Live view with Prometheus metrics:
//
//	healthdash watch --config /etc/healthdash/client.yaml --metrics-addr :9105
//
// One-shot status and alert management:
//
//	healthdash status
//	healthdash alerts list --severity critical
//	healthdash alerts ack 3f0c... --by oncall
//	healthdash alerts resolve 3f0c... --by oncall
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pilot-net/healthdash/dashboard"
	"github.com/pilot-net/healthdash/dashboard/internal/config"
)

// Global flags
var (
	configFile string
	origin     string
	token      string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "healthdash",
	Short:         "Real-time health dashboard client",
	Long:          "healthdash keeps a live view of agent health, system resources and alerts\nin sync with a dashboard server over WebSocket and REST.",
	Version:       dashboard.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&origin, "origin", "", "Dashboard server origin, e.g. http://localhost:3000")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API bearer token")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(watchCmd, statusCmd, alertsCmd, timelineCmd, notificationsCmd, agentCmd, thresholdsCmd, configCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, styleError.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

// newLogger builds the process logger honoring --debug.
func newLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// loadConfig applies file, environment and flag sources in order.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	if configFile != "" {
		fileCfg, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.ApplyEnvOverrides()

	if origin != "" {
		cfg.Server.Origin = origin
	}
	if token != "" {
		cfg.API.Token = token
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newDashboard loads configuration and builds a client. mutate may adjust
// the configuration before construction.
func newDashboard(mutate func(*config.Config)) (*dashboard.Dashboard, *slog.Logger, error) {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}

	d, err := dashboard.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating dashboard client: %w", err)
	}
	return d, logger, nil
}
