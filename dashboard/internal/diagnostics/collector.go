// Package diagnostics reports the sync client's own health: process
// resources, connection state and store fetch errors.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/pilot-net/healthdash/dashboard/internal/clock"
	"github.com/pilot-net/healthdash/dashboard/internal/conn"
)

// ConnectionInfo is implemented by *conn.Manager.
type ConnectionInfo interface {
	Status() conn.Status
	ReconnectAttempts() int
	LastPong() time.Time
}

// Report is one diagnostics snapshot.
type Report struct {
	Timestamp   time.Time        `json:"timestamp"`
	Status      string           `json:"status"`
	Process     ProcessHealth    `json:"process"`
	Connection  ConnectionHealth `json:"connection"`
	StoreErrors []string         `json:"storeErrors,omitempty"`
}

// ProcessHealth describes the client process.
type ProcessHealth struct {
	Goroutines      int     `json:"goroutines"`
	UptimeSeconds   int64   `json:"uptimeSeconds"`
	CPUPercent      float64 `json:"cpuPercent"`
	MemoryMB        float64 `json:"memoryMB"`
	MemoryPercent   float64 `json:"memoryPercent"`
	MemoryFormatted string  `json:"memoryFormatted"`
}

// ConnectionHealth describes the WebSocket connection.
type ConnectionHealth struct {
	State             string     `json:"state"`
	ReconnectAttempts int        `json:"reconnectAttempts"`
	LastPong          *time.Time `json:"lastPong,omitempty"`
}

// Config for the collector.
type Config struct {
	Connection    ConnectionInfo  // Optional
	StoreErrors   func() []string // Optional
	Clock         clock.Clock     // Optional
	CacheDuration time.Duration   // Default: 30s
}

// Collector gathers diagnostics with caching.
type Collector struct {
	conn        ConnectionInfo
	storeErrors func() []string
	clock       clock.Clock
	startTime   time.Time

	// Cached values with TTL
	mu            sync.RWMutex
	cached        *Report
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewCollector creates a new diagnostics collector.
func NewCollector(cfg Config) *Collector {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = 30 * time.Second
	}
	return &Collector{
		conn:          cfg.Connection,
		storeErrors:   cfg.StoreErrors,
		clock:         cfg.Clock,
		startTime:     cfg.Clock.Now(),
		cacheDuration: cfg.CacheDuration,
	}
}

// Report returns the current diagnostics. Process sampling is relatively
// expensive, so results are cached for the configured duration.
func (c *Collector) Report(ctx context.Context) *Report {
	now := c.clock.Now()

	c.mu.RLock()
	if c.cached != nil && now.Before(c.cacheExpiry) {
		r := *c.cached
		c.mu.RUnlock()
		return &r
	}
	c.mu.RUnlock()

	r := c.collect(ctx, now)

	c.mu.Lock()
	c.cached = r
	c.cacheExpiry = now.Add(c.cacheDuration)
	c.mu.Unlock()

	out := *r
	return &out
}

func (c *Collector) collect(ctx context.Context, now time.Time) *Report {
	r := &Report{
		Timestamp: now,
		Status:    "healthy",
		Process:   c.collectProcess(ctx, now),
	}

	if c.conn != nil {
		r.Connection = ConnectionHealth{
			State:             c.conn.Status().String(),
			ReconnectAttempts: c.conn.ReconnectAttempts(),
		}
		if lp := c.conn.LastPong(); !lp.IsZero() {
			r.Connection.LastPong = &lp
		}
		switch c.conn.Status() {
		case conn.StatusGivenUp:
			r.Status = "disconnected"
		case conn.StatusConnected:
		default:
			r.Status = "degraded"
		}
	}

	if c.storeErrors != nil {
		r.StoreErrors = c.storeErrors()
		if len(r.StoreErrors) > 0 && r.Status == "healthy" {
			r.Status = "degraded"
		}
	}

	if r.Status == "healthy" && (r.Process.MemoryPercent > 90 || r.Process.CPUPercent > 90) {
		r.Status = "degraded"
	}

	return r
}

func (c *Collector) collectProcess(ctx context.Context, now time.Time) ProcessHealth {
	health := ProcessHealth{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(now.Sub(c.startTime).Seconds()),
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return health
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		health.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
		health.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		health.MemoryFormatted = formatBytes(int64(mem.RSS))
	}
	if pct, err := proc.MemoryPercentWithContext(ctx); err == nil {
		health.MemoryPercent = float64(pct)
	}

	return health
}

// formatBytes converts bytes to a human-readable string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
