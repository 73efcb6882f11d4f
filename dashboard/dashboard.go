// Package dashboard wires the health dashboard sync client together.
//
// # Lifecycle
//
//  1. Build every component explicitly (New); nothing is a package global
//  2. Attach store handlers to the connection manager
//  3. Connect; on failure keep going while reconnects run in the background
//  4. On every transition to connected, subscribe and resync both stores
//  5. Run the auto-refresh, diagnostics and notification loops
//  6. On shutdown, disconnect and close persistent resources
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pilot-net/healthdash/dashboard/internal/alertstore"
	"github.com/pilot-net/healthdash/dashboard/internal/client"
	"github.com/pilot-net/healthdash/dashboard/internal/clock"
	"github.com/pilot-net/healthdash/dashboard/internal/config"
	"github.com/pilot-net/healthdash/dashboard/internal/conn"
	"github.com/pilot-net/healthdash/dashboard/internal/diagnostics"
	"github.com/pilot-net/healthdash/dashboard/internal/effects"
	"github.com/pilot-net/healthdash/dashboard/internal/healthstore"
	"github.com/pilot-net/healthdash/dashboard/internal/settings"
	"github.com/pilot-net/healthdash/pkg/types"
)

// Version is set at build time.
var Version = "dev"

// Dashboard is the sync client: one connection, two stores, their effects.
type Dashboard struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	client   *client.Client
	conn     *conn.Manager
	health   *healthstore.Store
	alerts   *alertstore.Store
	effects  *effects.Dispatcher
	diag     *diagnostics.Collector
	settings settings.Store

	closers []io.Closer

	connLost chan int
	resync   chan struct{}
}

type options struct {
	dialer     conn.Dialer
	clock      clock.Clock
	httpClient *http.Client
	settings   settings.Store
	notifiers  []effects.Notifier
	sound      effects.Sound
}

// Option customizes New. Intended for tests and embedding.
type Option func(*options)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d conn.Dialer) Option { return func(o *options) { o.dialer = d } }

// WithClock replaces the clock driving connection timers.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithHTTPClient replaces the REST HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithSettingsStore replaces the notification settings store.
func WithSettingsStore(s settings.Store) Option { return func(o *options) { o.settings = s } }

// WithNotifiers replaces the configured notifiers.
func WithNotifiers(n ...effects.Notifier) Option { return func(o *options) { o.notifiers = n } }

// WithSound replaces the audible cue.
func WithSound(s effects.Sound) Option { return func(o *options) { o.sound = s } }

// New creates a dashboard client with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Dashboard, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}

	d := &Dashboard{
		cfg:      cfg,
		logger:   logger,
		clock:    o.clock,
		connLost: make(chan int, 1),
		resync:   make(chan struct{}, 1),
	}

	// Settings store
	d.settings = o.settings
	if d.settings == nil {
		if cfg.Settings.Path != "" {
			st, err := settings.OpenSQLite(cfg.Settings.Path, logger)
			if err != nil {
				return nil, fmt.Errorf("opening settings store: %w", err)
			}
			d.settings = st
			d.closers = append(d.closers, st)
		} else {
			d.settings = settings.NewMemoryStore()
		}
	}

	// REST client
	d.client = client.NewClient(client.Config{
		BaseURL:    cfg.APIBaseURL(),
		HealthURL:  cfg.HealthURL(),
		AuthToken:  cfg.API.Token,
		Timeout:    cfg.API.Timeout,
		RateLimit:  cfg.API.RateLimit,
		HTTPClient: o.httpClient,
		Logger:     logger,
	})

	// Connection manager
	dialer := o.dialer
	if dialer == nil {
		header := http.Header{}
		if cfg.API.Token != "" {
			header.Set("Authorization", "Bearer "+cfg.API.Token)
		}
		dialer = conn.NewWebSocketDialer(cfg.Connection.HandshakeTimeout, header)
	}
	d.conn = conn.NewManager(conn.Config{
		URL:                  cfg.WebSocketURL(),
		Source:               cfg.Server.Source,
		ReconnectInterval:    cfg.Connection.ReconnectInterval,
		MaxReconnectDelay:    cfg.Connection.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Connection.HeartbeatInterval,
		Dialer:               dialer,
		Clock:                o.clock,
		Logger:               logger,
		OnGiveUp:             d.onGiveUp,
		OnStatusChange:       d.onStatusChange,
	})

	// Stores
	d.health = healthstore.New(d.client, o.clock, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.alerts = alertstore.New(ctx, alertstore.Config{
		API:         d.client,
		Settings:    d.settings,
		Clock:       o.clock,
		Logger:      logger,
		PageSize:    cfg.Alerts.PageSize,
		TimelineCap: cfg.Alerts.TimelineLimit,
		FetchLimit:  cfg.Alerts.FetchLimit,
	})

	// Notification effects
	notifiers := o.notifiers
	if notifiers == nil && cfg.Notifications.Desktop {
		notifiers = append(notifiers, effects.NewLogNotifier(logger))
		if cfg.Notifications.RedisURL != "" {
			rn, err := effects.NewRedisNotifier(cfg.Notifications.RedisURL, cfg.Notifications.RedisChannel, logger)
			if err != nil {
				logger.Warn("redis notifier unavailable, continuing without it", "error", err)
			} else {
				notifiers = append(notifiers, rn)
				d.closers = append(d.closers, rn)
			}
		}
	}
	sound := o.sound
	if sound == nil && cfg.Notifications.Sound {
		sound = effects.NewBell(os.Stdout)
	}
	d.effects = effects.NewDispatcher(effects.Config{
		Notifiers: notifiers,
		Sound:     sound,
		Logger:    logger,
	})

	d.diag = diagnostics.NewCollector(diagnostics.Config{
		Connection:  d.conn,
		StoreErrors: d.storeErrors,
		Clock:       o.clock,
	})

	return d, nil
}

// Client returns the REST client.
func (d *Dashboard) Client() *client.Client { return d.client }

// Connection returns the connection manager.
func (d *Dashboard) Connection() *conn.Manager { return d.conn }

// Health returns the health store.
func (d *Dashboard) Health() *healthstore.Store { return d.health }

// Alerts returns the alert store.
func (d *Dashboard) Alerts() *alertstore.Store { return d.alerts }

// Diagnostics returns the self-diagnostics collector.
func (d *Dashboard) Diagnostics() *diagnostics.Collector { return d.diag }

// ConnectionLost delivers the attempt count each time reconnection is
// abandoned. The client stays disconnected until Reconnect is called.
func (d *Dashboard) ConnectionLost() <-chan int { return d.connLost }

// Reconnect starts a fresh connection attempt after a give-up.
func (d *Dashboard) Reconnect(ctx context.Context) error {
	return d.conn.Connect(ctx)
}

// Run connects, keeps both stores in sync and blocks until ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	d.logger.Info("starting dashboard client",
		"version", Version,
		"api", d.cfg.APIBaseURL(),
		"ws", d.cfg.WebSocketURL())

	detachHealth := d.health.Attach(d.conn)
	defer detachHealth()
	detachAlerts := d.alerts.Attach(d.conn)
	defer detachAlerts()
	detachEffects := d.effects.Attach(d.alerts)
	defer detachEffects()

	defer d.close()
	defer d.conn.Disconnect()

	if err := d.conn.Connect(ctx); err != nil {
		d.logger.Warn("initial connect failed, retrying in background", "error", err)
		// No connected transition will trigger the first sync.
		d.Refresh(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.effects.Run(gctx)
		return gctx.Err()
	})
	g.Go(func() error { return d.runResync(gctx) })
	g.Go(func() error { return d.runAutoRefresh(gctx) })
	g.Go(func() error { return d.runDiagnostics(gctx) })

	err := g.Wait()
	d.logger.Info("dashboard client stopped")
	return err
}

// Refresh refetches every slice of both stores concurrently. Failures are
// logged and stay visible through the stores' Errors.
func (d *Dashboard) Refresh(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error {
		if err := d.health.RefreshAll(ctx); err != nil {
			d.logger.Warn("health refresh incomplete", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := d.alerts.RefreshAll(ctx); err != nil {
			d.logger.Warn("alert refresh incomplete", "error", err)
		}
		return nil
	})
	_ = g.Wait()
}

// subscribedEvents is every push type the stores consume.
func subscribedEvents() []string {
	return append(healthstore.Events(), alertstore.Events()...)
}

func (d *Dashboard) onStatusChange(s conn.Status) {
	if s != conn.StatusConnected {
		return
	}
	select {
	case d.resync <- struct{}{}:
	default:
	}
}

func (d *Dashboard) onGiveUp(attempts int) {
	d.logger.Error("connection lost, automatic reconnection abandoned",
		"attempts", attempts)
	select {
	case d.connLost <- attempts:
	default:
	}
}

// runResync subscribes and refreshes after every (re)connect so that pushes
// missed while disconnected are recovered from snapshots.
func (d *Dashboard) runResync(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.resync:
			if !d.conn.Subscribe(subscribedEvents()...) {
				d.logger.Warn("subscribe failed after connect")
			}
			d.Refresh(ctx)
			d.logger.Info("resynchronized after connect")
		}
	}
}

// runAutoRefresh refreshes both stores on a fixed interval.
func (d *Dashboard) runAutoRefresh(ctx context.Context) error {
	if d.cfg.Refresh.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := clock.NewTicker(d.clock, d.cfg.Refresh.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Refresh(ctx)
		}
	}
}

// runDiagnostics logs a self-diagnostics report periodically.
func (d *Dashboard) runDiagnostics(ctx context.Context) error {
	if d.cfg.Refresh.DiagnosticsInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := clock.NewTicker(d.clock, d.cfg.Refresh.DiagnosticsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r := d.diag.Report(ctx)
			d.logger.Info("diagnostics",
				"status", r.Status,
				"connection", r.Connection.State,
				"reconnect_attempts", r.Connection.ReconnectAttempts,
				"goroutines", r.Process.Goroutines,
				"memory_mb", r.Process.MemoryMB,
				"store_errors", len(r.StoreErrors))
		}
	}
}

func (d *Dashboard) storeErrors() []string {
	var out []string
	for _, e := range d.health.Errors() {
		out = append(out, fmt.Sprintf("health/%s: %s", e.Slice, e.Error))
	}
	for _, e := range d.alerts.Errors() {
		out = append(out, fmt.Sprintf("alerts/%s: %s", e.Slice, e.Error))
	}
	return out
}

func (d *Dashboard) close() {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("closing resources", "error", err)
	}
	d.closers = nil
}

// Close releases persistent resources without running. Use it when New
// succeeded but Run was never called.
func (d *Dashboard) Close() {
	d.conn.Disconnect()
	d.close()
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is a read of both stores for rendering.
type Snapshot struct {
	Connection     conn.Status
	Overall        types.OverallStatus
	System         *types.SystemHealthSummary
	Agents         []types.AgentHealthStatus
	AgentCounts    types.AgentCounts
	Resources      map[string]types.ResourceStatus
	ActiveAlerts   []types.Alert
	ResolvedAlerts []types.Alert
	AlertStats     types.AlertStats
	Timeline       []types.IncidentTimelineEntry
	Loading        bool
	Errors         []string
	TakenAt        time.Time
}

// Snapshot copies the current state of both stores.
func (d *Dashboard) Snapshot() Snapshot {
	s := Snapshot{
		Connection:     d.conn.Status(),
		Overall:        d.health.OverallStatus(),
		Agents:         d.health.Agents(),
		AgentCounts:    d.health.AgentCounts(),
		Resources:      d.health.Resources(),
		ActiveAlerts:   d.alerts.ActiveAlerts(),
		ResolvedAlerts: d.alerts.ResolvedAlerts(),
		AlertStats:     d.alerts.Stats(),
		Timeline:       d.alerts.Timeline(),
		Loading:        d.health.Loading() || d.alerts.Loading(),
		Errors:         d.storeErrors(),
		TakenAt:        d.clock.Now(),
	}
	if sys, ok := d.health.System(); ok {
		s.System = &sys
	}
	return s
}
