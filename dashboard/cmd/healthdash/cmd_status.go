package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pilot-net/healthdash/dashboard/internal/config"
)

// oneShotTimeout bounds commands that fetch once and exit.
const oneShotTimeout = 30 * time.Second

var (
	statusJSON    bool
	timelineLimit int

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Fetch and print current health, resources and active alerts",
		RunE:  runStatus,
	}

	timelineCmd = &cobra.Command{
		Use:   "timeline",
		Short: "Print the most recent incident timeline entries",
		RunE:  runTimeline,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE:  runConfig,
	}
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the snapshot as JSON")
	timelineCmd.Flags().IntVar(&timelineLimit, "limit", 0, "Number of entries (default: alerts.timeline_limit)")
}

// quiet disables notification effects for commands that never stream.
func quiet(cfg *config.Config) {
	cfg.Notifications.Sound = false
	cfg.Notifications.Desktop = false
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, _, err := newDashboard(quiet)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()
	d.Refresh(ctx)

	snap := d.Snapshot()
	if statusJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	renderSnapshot(cmd.OutOrStdout(), snap)
	return nil
}

func runTimeline(cmd *cobra.Command, args []string) error {
	d, _, err := newDashboard(quiet)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()
	if err := d.Alerts().FetchTimeline(ctx, timelineLimit); err != nil {
		return err
	}
	renderTimeline(cmd.OutOrStdout(), d.Alerts().Timeline())
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.API.Token != "" {
		cfg.API.Token = "<redacted>"
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, string(data))
	fmt.Fprintf(out, "# api: %s\n# health: %s\n# websocket: %s\n", cfg.APIBaseURL(), cfg.HealthURL(), cfg.WebSocketURL())
	return nil
}
