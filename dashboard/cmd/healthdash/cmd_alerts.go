package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pilot-net/healthdash/dashboard/internal/alertstore"
	"github.com/pilot-net/healthdash/pkg/types"
)

var (
	listResolved bool
	listSeverity string
	listType     string
	listPage     int
	actor        string

	soundFlag   bool
	desktopFlag bool

	alertsCmd = &cobra.Command{
		Use:   "alerts",
		Short: "List and manage alerts",
	}

	alertsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List alerts, most recent first",
		Args:  cobra.NoArgs,
		RunE:  runAlertsList,
	}

	alertsAckCmd = &cobra.Command{
		Use:   "ack [alert-id]",
		Short: "Acknowledge an active alert",
		Args:  cobra.ExactArgs(1),
		RunE:  runAlertsAck,
	}

	alertsResolveCmd = &cobra.Command{
		Use:   "resolve [alert-id]",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE:  runAlertsResolve,
	}

	notificationsCmd = &cobra.Command{
		Use:   "notifications",
		Short: "Show or change the notification toggles",
		Args:  cobra.NoArgs,
		RunE:  runNotifications,
	}
)

func init() {
	alertsListCmd.Flags().BoolVar(&listResolved, "resolved", false, "List resolved alerts instead of active ones")
	alertsListCmd.Flags().StringVar(&listSeverity, "severity", "", "Only this severity (critical, warning, info)")
	alertsListCmd.Flags().StringVar(&listType, "type", "", "Only this alert type")
	alertsListCmd.Flags().IntVar(&listPage, "page", 1, "Page number")

	for _, c := range []*cobra.Command{alertsAckCmd, alertsResolveCmd} {
		c.Flags().StringVar(&actor, "by", os.Getenv("USER"), "Who is performing the action")
	}

	notificationsCmd.Flags().BoolVar(&soundFlag, "sound", true, "Play a sound for critical alerts")
	notificationsCmd.Flags().BoolVar(&desktopFlag, "desktop", true, "Raise desktop notifications")

	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd, alertsResolveCmd)
}

func parseSeverity(s string) (types.AlertSeverity, error) {
	switch sev := types.AlertSeverity(s); sev {
	case "", types.SeverityCritical, types.SeverityWarning, types.SeverityInfo:
		return sev, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	severity, err := parseSeverity(listSeverity)
	if err != nil {
		return err
	}

	d, _, err := newDashboard(quiet)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	store := d.Alerts()
	if listResolved {
		err = store.FetchResolvedAlerts(ctx)
	} else {
		err = store.FetchActiveAlerts(ctx)
	}
	if err != nil {
		return err
	}

	store.SetFilter(alertstore.Filter{
		ShowResolved: listResolved,
		Severity:     severity,
		Type:         listType,
	})
	renderPage(cmd.OutOrStdout(), store.Page(listPage))
	return nil
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	id := args[0]
	if actor == "" {
		return fmt.Errorf("--by is required")
	}

	d, _, err := newDashboard(quiet)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	// Acknowledging requires the alert to be known as active.
	if err := d.Alerts().FetchActiveAlerts(ctx); err != nil {
		return err
	}
	if _, ok := d.Alerts().Alert(id); !ok {
		return fmt.Errorf("alert %s is not active", id)
	}
	if !d.Alerts().AcknowledgeAlert(ctx, id, actor) {
		return fmt.Errorf("acknowledging alert %s failed", id)
	}

	fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render(fmt.Sprintf("Alert %s acknowledged by %s", id, actor)))
	return nil
}

func runAlertsResolve(cmd *cobra.Command, args []string) error {
	id := args[0]

	d, _, err := newDashboard(quiet)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	if !d.Alerts().ResolveAlert(ctx, id, actor) {
		return fmt.Errorf("resolving alert %s failed", id)
	}

	fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render(fmt.Sprintf("Alert %s resolved", id)))
	return nil
}

func runNotifications(cmd *cobra.Command, args []string) error {
	d, _, err := newDashboard(quiet)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	store := d.Alerts()
	if cmd.Flags().Changed("sound") {
		if err := store.SetSoundEnabled(ctx, soundFlag); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("desktop") {
		if err := store.SetDesktopEnabled(ctx, desktopFlag); err != nil {
			return err
		}
	}

	ns := store.NotificationSettings()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sound:   %s\n", onOff(ns.SoundEnabled))
	fmt.Fprintf(out, "desktop: %s\n", onOff(ns.DesktopEnabled))
	return nil
}

func onOff(b bool) string {
	if b {
		return styleOK.Render("on")
	}
	return styleMuted.Render("off")
}
