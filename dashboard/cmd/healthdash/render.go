package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pilot-net/healthdash/dashboard"
	"github.com/pilot-net/healthdash/dashboard/internal/alertstore"
	"github.com/pilot-net/healthdash/dashboard/internal/conn"
	"github.com/pilot-net/healthdash/pkg/types"
)

var (
	colorOK       = lipgloss.Color("#2CD7C7")
	colorWarning  = lipgloss.Color("#F4D03F")
	colorError    = lipgloss.Color("#E74C3C")
	colorMuted    = lipgloss.Color("#2C4A54")
	colorAccent   = lipgloss.Color("#20B9B4")
	styleTitle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleHeader   = lipgloss.NewStyle().Bold(true)
	styleMuted    = lipgloss.NewStyle().Foreground(colorMuted)
	styleOK       = lipgloss.NewStyle().Foreground(colorOK)
	styleWarning  = lipgloss.NewStyle().Foreground(colorWarning)
	styleError    = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleErrorBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorError).
			Padding(0, 1)
)

func overallStyle(s types.OverallStatus) lipgloss.Style {
	switch s {
	case types.OverallHealthy:
		return styleOK
	case types.OverallDegraded:
		return styleWarning
	default:
		return styleError
	}
}

func severityStyle(s types.AlertSeverity) lipgloss.Style {
	switch s {
	case types.SeverityCritical:
		return styleError
	case types.SeverityWarning:
		return styleWarning
	default:
		return styleMuted
	}
}

func levelStyle(l types.ResourceLevel) lipgloss.Style {
	switch l {
	case types.ResourceCritical:
		return styleError
	case types.ResourceWarning:
		return styleWarning
	default:
		return styleOK
	}
}

func connectionStyle(s conn.Status) lipgloss.Style {
	switch s {
	case conn.StatusConnected:
		return styleOK
	case conn.StatusGivenUp:
		return styleError
	default:
		return styleWarning
	}
}

// renderSnapshot writes the full dashboard view.
func renderSnapshot(w io.Writer, s dashboard.Snapshot) {
	fmt.Fprintf(w, "%s  %s  connection: %s\n",
		styleTitle.Render("HEALTH"),
		overallStyle(s.Overall).Render(strings.ToUpper(string(s.Overall))),
		connectionStyle(s.Connection).Render(s.Connection.String()))
	if s.System != nil {
		fmt.Fprintf(w, "uptime %s  trend %s  updated %s\n",
			formatUptime(s.System.Uptime),
			s.System.HealthTrend,
			s.System.Timestamp.Local().Format(time.TimeOnly))
	}
	if s.Loading {
		fmt.Fprintln(w, styleMuted.Render("refreshing..."))
	}
	fmt.Fprintln(w)

	renderAgents(w, s.Agents, s.AgentCounts)
	fmt.Fprintln(w)
	renderResources(w, s.Resources)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s  active %d  critical %d  warning %d  acknowledged %d  resolved %d\n",
		styleTitle.Render("ALERTS"),
		s.AlertStats.Active, s.AlertStats.Critical, s.AlertStats.Warning,
		s.AlertStats.Acknowledged, s.AlertStats.Resolved)
	renderAlerts(w, s.ActiveAlerts)

	if len(s.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styleErrorBox.Render(strings.Join(s.Errors, "\n")))
	}
}

func renderAgents(w io.Writer, agents []types.AgentHealthStatus, c types.AgentCounts) {
	fmt.Fprintf(w, "%s  %d total  %d running  %d idle  %d failed  %d blocked  %d recovering\n",
		styleTitle.Render("AGENTS"), c.Total, c.Running, c.Idle, c.Failed, c.Blocked, c.Recovering)
	if len(agents) == 0 {
		fmt.Fprintln(w, styleMuted.Render("  no agents"))
		return
	}
	fmt.Fprintln(w, styleHeader.Render(fmt.Sprintf("  %-24s %-11s %6s %8s  %s", "ID", "STATUS", "SCORE", "CPU%", "TASK")))
	for _, a := range agents {
		status := fmt.Sprintf("%-11s", a.Status)
		if a.Status == types.AgentStatusFailed || a.Status == types.AgentStatusBlocked {
			status = styleError.Render(status)
		}
		fmt.Fprintf(w, "  %-24s %s %6.1f %8.1f  %s\n",
			truncate(a.AgentID, 24), status, a.HealthScore, a.ResourceUsage.CPUPercent, a.CurrentTask)
	}
}

func renderAgentDetail(w io.Writer, d types.AgentDetail) {
	a := d.Agent
	status := string(a.Status)
	if a.Status == types.AgentStatusFailed || a.Status == types.AgentStatusBlocked {
		status = styleError.Render(status)
	}
	fmt.Fprintf(w, "%s  %s\n", styleTitle.Render("AGENT "+a.AgentID), status)
	fmt.Fprintf(w, "  health score  %.1f\n", a.HealthScore)
	fmt.Fprintf(w, "  cpu           %.1f%%\n", a.ResourceUsage.CPUPercent)
	fmt.Fprintf(w, "  memory        %.0f MB\n", a.ResourceUsage.MemoryMB)
	if a.CurrentTask != "" {
		fmt.Fprintf(w, "  task          %s\n", a.CurrentTask)
	}
	if !a.LastActivity.IsZero() {
		fmt.Fprintf(w, "  last activity %s ago\n", formatAge(time.Since(a.LastActivity)))
	}

	if len(d.History) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, styleHeader.Render(fmt.Sprintf("  %-20s %-11s %6s", "WHEN", "STATUS", "SCORE")))
	for _, h := range d.History {
		when := "-"
		if !h.LastActivity.IsZero() {
			when = h.LastActivity.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "  %-20s %-11s %6.1f\n", when, h.Status, h.HealthScore)
	}
}

func renderResources(w io.Writer, resources map[string]types.ResourceStatus) {
	fmt.Fprintln(w, styleTitle.Render("RESOURCES"))
	if len(resources) == 0 {
		fmt.Fprintln(w, styleMuted.Render("  no resource data"))
		return
	}
	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := resources[name]
		fmt.Fprintf(w, "  %-10s %6.1f%%  %s\n", name, r.Usage,
			levelStyle(r.Status).Render(string(r.Status)))
	}
}

func renderAlerts(w io.Writer, alerts []types.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, styleMuted.Render("  no alerts"))
		return
	}
	fmt.Fprintln(w, styleHeader.Render(fmt.Sprintf("  %-36s %-9s %-8s %-20s %s", "ID", "SEVERITY", "AGE", "COMPONENT", "TITLE")))
	for _, a := range alerts {
		title := a.Title
		if a.Acknowledged() {
			title += styleMuted.Render(" (ack " + a.AcknowledgedBy + ")")
		}
		if a.Resolved {
			title += styleMuted.Render(" (resolved)")
		}
		fmt.Fprintf(w, "  %-36s %s %-8s %-20s %s\n",
			truncate(a.ID, 36),
			severityStyle(a.Severity).Render(fmt.Sprintf("%-9s", a.Severity)),
			formatAge(time.Since(a.Timestamp)),
			truncate(a.Component, 20),
			title)
	}
}

func renderPage(w io.Writer, p alertstore.Page) {
	renderAlerts(w, p.Items)
	if p.TotalPages > 0 {
		fmt.Fprintln(w, styleMuted.Render(fmt.Sprintf("page %d of %d, %d alerts", p.Number, p.TotalPages, p.Total)))
	}
}

func renderTimeline(w io.Writer, entries []types.IncidentTimelineEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, styleMuted.Render("no incidents"))
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s  %-16s %s\n",
			e.Timestamp.Local().Format(time.DateTime),
			severityStyle(e.Severity).Render(fmt.Sprintf("%-9s", e.Severity)),
			truncate(e.Type, 16),
			e.Title)
		if e.Description != "" {
			fmt.Fprintf(w, "    %s\n", styleMuted.Render(e.Description))
		}
	}
}

func renderConnectionLost(w io.Writer, attempts int, interactive bool) {
	msg := fmt.Sprintf("Connection lost after %d reconnect attempts.", attempts)
	if interactive {
		msg += "\nPress Enter to reconnect."
	}
	fmt.Fprintln(w, styleErrorBox.Render(msg))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "~"
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// formatUptime renders server uptime given in seconds.
func formatUptime(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
