package types

import "time"

// =============================================================================
// AGENT HEALTH
// =============================================================================

// AgentHealthStatus is the last known state of one monitored worker.
// AgentID is the unique key.
type AgentHealthStatus struct {
	AgentID            string             `json:"agentId"`
	Status             AgentStatus        `json:"status"`
	LastActivity       time.Time          `json:"lastActivity"`
	CurrentTask        string             `json:"currentTask,omitempty"`
	ResourceUsage      ResourceUsage      `json:"resourceUsage"`
	PerformanceMetrics PerformanceMetrics `json:"performanceMetrics"`
	HealthScore        float64            `json:"healthScore"`
}

// AgentStatus is the operational status of an agent.
type AgentStatus string

const (
	AgentStatusRunning    AgentStatus = "running"
	AgentStatusIdle       AgentStatus = "idle"
	AgentStatusFailed     AgentStatus = "failed"
	AgentStatusBlocked    AgentStatus = "blocked"
	AgentStatusRecovering AgentStatus = "recovering"
)

// ResourceUsage is what a single agent consumes.
type ResourceUsage struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemoryMB   float64 `json:"memoryMB"`
	TokensUsed int64   `json:"tokensUsed"`
}

// PerformanceMetrics summarizes an agent's recent work.
type PerformanceMetrics struct {
	AvgResponseTime float64 `json:"avgResponseTime"`
	ErrorRate       float64 `json:"errorRate"`
	SuccessRate     float64 `json:"successRate"`
}

// AgentDetail is returned by GET /api/agents/:id.
type AgentDetail struct {
	Agent   AgentHealthStatus   `json:"agent"`
	History []AgentHealthStatus `json:"history,omitempty"`
}

// =============================================================================
// SYSTEM HEALTH
// =============================================================================

// OverallStatus is the aggregate health of the system.
type OverallStatus string

const (
	OverallHealthy   OverallStatus = "healthy"
	OverallDegraded  OverallStatus = "degraded"
	OverallUnhealthy OverallStatus = "unhealthy"
	OverallCritical  OverallStatus = "critical"
)

// Rank orders statuses from best (0) to worst (3). Unknown values rank as healthy.
func (s OverallStatus) Rank() int {
	switch s {
	case OverallDegraded:
		return 1
	case OverallUnhealthy:
		return 2
	case OverallCritical:
		return 3
	default:
		return 0
	}
}

// Worst returns the more severe of two statuses.
func Worst(a, b OverallStatus) OverallStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	if a == "" {
		return OverallHealthy
	}
	return a
}

// HealthTrend describes the direction health is moving in.
type HealthTrend string

const (
	TrendImproving HealthTrend = "improving"
	TrendStable    HealthTrend = "stable"
	TrendDegrading HealthTrend = "degrading"
)

// Resource keys reported by the server.
const (
	ResourceCPU     = "cpu"
	ResourceMemory  = "memory"
	ResourceDisk    = "disk"
	ResourceNetwork = "network"
)

// ResourceLevel is the threshold classification of a resource.
type ResourceLevel string

const (
	ResourceNormal   ResourceLevel = "normal"
	ResourceWarning  ResourceLevel = "warning"
	ResourceCritical ResourceLevel = "critical"
)

// ResourceStatus is the state of one system resource.
type ResourceStatus struct {
	Current   float64           `json:"current"`
	Usage     float64           `json:"usage"`
	Threshold ResourceThreshold `json:"threshold"`
	Status    ResourceLevel     `json:"status"`
	Trend     string            `json:"trend,omitempty"`
}

// ResourceThreshold holds the warning and critical levels of a resource.
type ResourceThreshold struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// AgentCounts is the number of agents per status.
type AgentCounts struct {
	Total      int `json:"total"`
	Running    int `json:"running"`
	Idle       int `json:"idle"`
	Failed     int `json:"failed"`
	Blocked    int `json:"blocked"`
	Recovering int `json:"recovering"`
}

// Add counts one agent in the given status.
func (c *AgentCounts) Add(status AgentStatus) {
	c.Total++
	switch status {
	case AgentStatusRunning:
		c.Running++
	case AgentStatusIdle:
		c.Idle++
	case AgentStatusFailed:
		c.Failed++
	case AgentStatusBlocked:
		c.Blocked++
	case AgentStatusRecovering:
		c.Recovering++
	}
}

// AlertCounts is the number of active alerts per severity.
type AlertCounts struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

// SystemHealthSummary is a whole-system snapshot.
// It is always replaced as a unit, never patched field by field.
type SystemHealthSummary struct {
	Status         OverallStatus             `json:"status"`
	Uptime         float64                   `json:"uptime"`
	Agents         AgentCounts               `json:"agents"`
	ResourceStatus map[string]ResourceStatus `json:"resourceStatus"`
	Alerts         AlertCounts               `json:"alerts"`
	HealthTrend    HealthTrend               `json:"healthTrend"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// Clone returns a deep copy so callers cannot mutate store state.
func (s SystemHealthSummary) Clone() SystemHealthSummary {
	out := s
	if s.ResourceStatus != nil {
		out.ResourceStatus = make(map[string]ResourceStatus, len(s.ResourceStatus))
		for k, v := range s.ResourceStatus {
			out.ResourceStatus[k] = v
		}
	}
	return out
}

// =============================================================================
// DASHBOARD METRICS & CONFIG
// =============================================================================

// DashboardMetrics is returned by GET /api/metrics.
type DashboardMetrics struct {
	Timeframe       string             `json:"timeframe"`
	AvgResponseTime float64            `json:"avgResponseTime"`
	ErrorRate       float64            `json:"errorRate"`
	Throughput      float64            `json:"throughput"`
	AlertsRaised    int                `json:"alertsRaised"`
	AlertsResolved  int                `json:"alertsResolved"`
	MTTRSeconds     float64            `json:"mttrSeconds"`
	Series          map[string][]Point `json:"series,omitempty"`
}

// Point is a single sample in a metric series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// AlertThresholds are the server-side resource thresholds.
type AlertThresholds map[string]ResourceThreshold

// RuntimeConfig is returned by GET /api/config.
type RuntimeConfig struct {
	Thresholds        AlertThresholds `json:"thresholds"`
	RefreshIntervalMs int             `json:"refreshIntervalMs,omitempty"`
	RetentionDays     int             `json:"retentionDays,omitempty"`
	Features          map[string]bool `json:"features,omitempty"`
}
