// Package testutil provides testing utilities and fixtures for the dashboard
// client packages.
//
// This package contains:
//   - Test loggers
//   - Fixture factories for health, alert and timeline types
//   - Push frame builders
//
// # Usage
//
// Fixtures return values and accept functional overrides:
//
//	alert := testutil.FixtureAlert()
//	alert := testutil.FixtureAlert(func(a *types.Alert) {
//		a.ID = "alert-42"
//		a.Severity = types.SeverityCritical
//	})
package testutil

import (
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/healthdash/pkg/types"
)

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// HEALTH FIXTURES
// =============================================================================

// FixtureAgentHealth creates a running agent with sensible defaults.
func FixtureAgentHealth(overrides ...func(*types.AgentHealthStatus)) types.AgentHealthStatus {
	agent := types.AgentHealthStatus{
		AgentID:      "agent-" + uuid.New().String()[:8],
		Status:       types.AgentStatusRunning,
		LastActivity: time.Now(),
		CurrentTask:  "index-repository",
		ResourceUsage: types.ResourceUsage{
			CPUPercent: 12.5,
			MemoryMB:   256,
			TokensUsed: 1200,
		},
		PerformanceMetrics: types.PerformanceMetrics{
			AvgResponseTime: 180,
			ErrorRate:       0.01,
			SuccessRate:     0.99,
		},
		HealthScore: 95,
	}

	for _, override := range overrides {
		override(&agent)
	}

	return agent
}

// FixtureAgentFailed creates a failed agent.
func FixtureAgentFailed(overrides ...func(*types.AgentHealthStatus)) types.AgentHealthStatus {
	return FixtureAgentHealth(append([]func(*types.AgentHealthStatus){
		func(a *types.AgentHealthStatus) {
			a.Status = types.AgentStatusFailed
			a.HealthScore = 10
			a.PerformanceMetrics.ErrorRate = 0.8
			a.LastActivity = time.Now().Add(-10 * time.Minute)
		},
	}, overrides...)...)
}

// FixtureResource creates a resource status at the given usage with
// 70/90 thresholds; the level is derived from them.
func FixtureResource(usage float64) types.ResourceStatus {
	r := types.ResourceStatus{
		Current:   usage,
		Usage:     usage,
		Threshold: types.ResourceThreshold{Warning: 70, Critical: 90},
		Status:    types.ResourceNormal,
		Trend:     string(types.TrendStable),
	}
	switch {
	case usage >= r.Threshold.Critical:
		r.Status = types.ResourceCritical
	case usage >= r.Threshold.Warning:
		r.Status = types.ResourceWarning
	}
	return r
}

// FixtureSystemHealth creates a healthy system summary.
func FixtureSystemHealth(overrides ...func(*types.SystemHealthSummary)) types.SystemHealthSummary {
	summary := types.SystemHealthSummary{
		Status: types.OverallHealthy,
		Uptime: 86400,
		Agents: types.AgentCounts{Total: 3, Running: 2, Idle: 1},
		ResourceStatus: map[string]types.ResourceStatus{
			types.ResourceCPU:     FixtureResource(35),
			types.ResourceMemory:  FixtureResource(52),
			types.ResourceDisk:    FixtureResource(40),
			types.ResourceNetwork: FixtureResource(12),
		},
		HealthTrend: types.TrendStable,
		Timestamp:   time.Now(),
	}

	for _, override := range overrides {
		override(&summary)
	}

	return summary
}

// =============================================================================
// ALERT FIXTURES
// =============================================================================

// FixtureAlert creates an active warning alert.
func FixtureAlert(overrides ...func(*types.Alert)) types.Alert {
	alert := types.Alert{
		ID:        "alert-" + uuid.New().String()[:8],
		Type:      "resource",
		Severity:  types.SeverityWarning,
		Title:     "Memory usage high",
		Message:   "memory above warning threshold",
		Component: "agent-pool",
		Timestamp: time.Now(),
		Tags:      []string{"test"},
	}

	for _, override := range overrides {
		override(&alert)
	}

	return alert
}

// FixtureAlertCritical creates an active critical alert.
func FixtureAlertCritical(overrides ...func(*types.Alert)) types.Alert {
	return FixtureAlert(append([]func(*types.Alert){
		func(a *types.Alert) {
			a.Severity = types.SeverityCritical
			a.Title = "Agent failure"
			a.Type = "agent"
		},
	}, overrides...)...)
}

// FixtureAlertResolved creates a resolved alert.
func FixtureAlertResolved(overrides ...func(*types.Alert)) types.Alert {
	return FixtureAlert(append([]func(*types.Alert){
		func(a *types.Alert) {
			a.Resolved = true
			a.ResolvedAt = Ptr(time.Now())
		},
	}, overrides...)...)
}

// FixtureTimelineEntry creates a timeline entry at the given time.
func FixtureTimelineEntry(at time.Time, overrides ...func(*types.IncidentTimelineEntry)) types.IncidentTimelineEntry {
	entry := types.IncidentTimelineEntry{
		ID:          uuid.New().String(),
		Timestamp:   at,
		Type:        "alert",
		Component:   "agent-pool",
		Severity:    types.SeverityInfo,
		Title:       "incident update",
		Description: "state changed",
	}

	for _, override := range overrides {
		override(&entry)
	}

	return entry
}

// =============================================================================
// PUSH FRAMES
// =============================================================================

// FixtureMessage builds a push message with data marshaled as JSON.
// It panics if data cannot be marshaled.
func FixtureMessage(msgType string, data any) types.Message {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	return types.Message{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now(),
		Source:    "test-server",
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Ptr returns a pointer to the given value.
func Ptr[T any](v T) *T {
	return &v
}

// TimeAgo returns a time in the past by the given duration.
func TimeAgo(d time.Duration) time.Time {
	return time.Now().Add(-d)
}
