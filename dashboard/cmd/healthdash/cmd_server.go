package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pilot-net/healthdash/dashboard/internal/client"
	"github.com/pilot-net/healthdash/pkg/types"
)

var (
	agentJSON      bool
	thresholdsJSON bool
	warningLevel   float64
	criticalLevel  float64

	agentCmd = &cobra.Command{
		Use:   "agent [agent-id]",
		Short: "Show one agent and its recent history",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgent,
	}

	thresholdsCmd = &cobra.Command{
		Use:   "thresholds",
		Short: "Show or change the server's resource alert thresholds",
	}

	thresholdsGetCmd = &cobra.Command{
		Use:   "get",
		Short: "Print the current thresholds",
		Args:  cobra.NoArgs,
		RunE:  runThresholdsGet,
	}

	thresholdsSetCmd = &cobra.Command{
		Use:   "set [resource]",
		Short: "Change the warning and/or critical level of one resource",
		Args:  cobra.ExactArgs(1),
		RunE:  runThresholdsSet,
	}
)

func init() {
	agentCmd.Flags().BoolVar(&agentJSON, "json", false, "Print the agent as JSON")

	thresholdsGetCmd.Flags().BoolVar(&thresholdsJSON, "json", false, "Print the thresholds as JSON")
	thresholdsSetCmd.Flags().Float64Var(&warningLevel, "warning", 0, "Warning level in percent")
	thresholdsSetCmd.Flags().Float64Var(&criticalLevel, "critical", 0, "Critical level in percent")

	thresholdsCmd.AddCommand(thresholdsGetCmd, thresholdsSetCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	id := args[0]

	d, _, err := newDashboard(quiet)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	detail, err := d.Client().Agent(ctx, id)
	if client.IsNotFound(err) {
		return fmt.Errorf("agent %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("fetching agent %s: %w", id, err)
	}

	if agentJSON {
		return printJSON(cmd.OutOrStdout(), detail)
	}
	renderAgentDetail(cmd.OutOrStdout(), *detail)
	return nil
}

func runThresholdsGet(cmd *cobra.Command, args []string) error {
	d, _, err := newDashboard(quiet)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	rc, err := d.Client().Config(ctx)
	if err != nil {
		return fmt.Errorf("fetching server config: %w", err)
	}

	if thresholdsJSON {
		return printJSON(cmd.OutOrStdout(), rc.Thresholds)
	}
	renderThresholds(cmd.OutOrStdout(), rc.Thresholds)
	return nil
}

// runThresholdsSet reads the current thresholds, changes one resource and
// writes the full set back, since PUT replaces it.
func runThresholdsSet(cmd *cobra.Command, args []string) error {
	resource := args[0]
	flags := cmd.Flags()
	if !flags.Changed("warning") && !flags.Changed("critical") {
		return fmt.Errorf("at least one of --warning or --critical is required")
	}

	d, _, err := newDashboard(quiet)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	rc, err := d.Client().Config(ctx)
	if err != nil {
		return fmt.Errorf("fetching server config: %w", err)
	}

	thresholds := make(types.AlertThresholds, len(rc.Thresholds)+1)
	for k, v := range rc.Thresholds {
		thresholds[k] = v
	}
	th := thresholds[resource]
	if flags.Changed("warning") {
		th.Warning = warningLevel
	}
	if flags.Changed("critical") {
		th.Critical = criticalLevel
	}
	if err := validateThreshold(th); err != nil {
		return fmt.Errorf("%s: %w", resource, err)
	}
	thresholds[resource] = th

	if err := d.Client().UpdateThresholds(ctx, thresholds); err != nil {
		return fmt.Errorf("updating thresholds: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), styleOK.Render(fmt.Sprintf(
		"%s thresholds set to warning %.1f%%, critical %.1f%%", resource, th.Warning, th.Critical)))
	return nil
}

func validateThreshold(th types.ResourceThreshold) error {
	for _, v := range []float64{th.Warning, th.Critical} {
		if v < 0 || v > 100 {
			return fmt.Errorf("levels must be between 0 and 100, got %.1f", v)
		}
	}
	if th.Warning >= th.Critical {
		return fmt.Errorf("warning level %.1f must be below critical level %.1f", th.Warning, th.Critical)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func renderThresholds(w io.Writer, thresholds types.AlertThresholds) {
	fmt.Fprintln(w, styleTitle.Render("THRESHOLDS"))
	if len(thresholds) == 0 {
		fmt.Fprintln(w, styleMuted.Render("  none configured"))
		return
	}
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(w, styleHeader.Render(fmt.Sprintf("  %-10s %8s %9s", "RESOURCE", "WARNING", "CRITICAL")))
	for _, name := range names {
		th := thresholds[name]
		fmt.Fprintf(w, "  %-10s %7.1f%% %8.1f%%\n", name, th.Warning, th.Critical)
	}
}
