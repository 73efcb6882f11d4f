// Package alertstore holds active and resolved alerts and the incident
// timeline.
//
// # Collections
//
// Active and resolved alerts are keyed by id with recency order, so a
// redelivered alert-triggered frame replaces its entry instead of
// duplicating it. An alert id lives in at most one collection; resolution
// moves it from active to resolved under a single lock.
//
// # Side effects
//
// The store performs no notifications itself. It emits Events to
// subscribers (see the effects package) after state has changed.
package alertstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pilot-net/healthdash/dashboard/internal/client"
	"github.com/pilot-net/healthdash/dashboard/internal/clock"
	"github.com/pilot-net/healthdash/dashboard/internal/conn"
	"github.com/pilot-net/healthdash/dashboard/internal/settings"
	"github.com/pilot-net/healthdash/dashboard/internal/telemetry"
	"github.com/pilot-net/healthdash/pkg/types"
)

// Defaults.
const (
	DefaultPageSize    = 10
	DefaultTimelineCap = 100
	DefaultFetchLimit  = 100
)

// Slice names an independently fetched collection.
type Slice string

const (
	SliceActive   Slice = "active"
	SliceResolved Slice = "resolved"
	SliceTimeline Slice = "timeline"
)

var allSlices = []Slice{SliceActive, SliceResolved, SliceTimeline}

// API is the subset of the REST client the store needs.
type API interface {
	Alerts(ctx context.Context, q client.AlertQuery) ([]types.Alert, error)
	ResolveAlert(ctx context.Context, id, resolvedBy string) error
	AcknowledgeAlert(ctx context.Context, id, acknowledgedBy string) error
	Timeline(ctx context.Context, limit int) ([]types.IncidentTimelineEntry, error)
}

// Bus is where push handlers are registered. *conn.Manager implements it.
type Bus interface {
	On(msgType string, h conn.Handler) conn.HandlerID
	Off(msgType string, id conn.HandlerID) bool
}

// EventType identifies a domain event.
type EventType string

const (
	EventAlertTriggered    EventType = "alert-triggered"
	EventAlertResolved     EventType = "alert-resolved"
	EventAlertAcknowledged EventType = "alert-acknowledged"
)

// Event is emitted after a state change. Settings is the notification
// configuration in effect when the change was applied.
type Event struct {
	Type     EventType
	Alert    types.Alert
	Settings types.NotificationSettings
}

// Config for the store.
type Config struct {
	API         API
	Settings    settings.Store // Optional; defaults to in-memory
	Clock       clock.Clock    // Optional
	Logger      *slog.Logger   // Optional
	PageSize    int            // Alerts per page (default: 10)
	TimelineCap int            // Max timeline entries (default: 100)
	FetchLimit  int            // limit= sent with alert fetches (default: 100)
}

type sliceState struct {
	inFlight   int
	err        string
	lastUpdate time.Time
}

// Store is the alert state container. It is safe for concurrent use.
type Store struct {
	api         API
	settings    settings.Store
	clock       clock.Clock
	logger      *slog.Logger
	pageSize    int
	timelineCap int
	fetchLimit  int

	mu       sync.RWMutex
	active   alertList
	resolved alertList
	timeline []types.IncidentTimelineEntry
	slices   map[Slice]*sliceState
	filter   Filter
	notif    types.NotificationSettings

	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int

	listenersMu  sync.Mutex
	listeners    map[int]func(Slice)
	nextListener int
}

// New creates a store and loads the persisted notification settings.
// A load failure is logged and the defaults are used.
func New(ctx context.Context, cfg Config) *Store {
	if cfg.Settings == nil {
		cfg.Settings = settings.NewMemoryStore()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.TimelineCap <= 0 {
		cfg.TimelineCap = DefaultTimelineCap
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultFetchLimit
	}

	s := &Store{
		api:         cfg.API,
		settings:    cfg.Settings,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("component", "alert_store"),
		pageSize:    cfg.PageSize,
		timelineCap: cfg.TimelineCap,
		fetchLimit:  cfg.FetchLimit,
		active:      newAlertList(),
		resolved:    newAlertList(),
		slices:      make(map[Slice]*sliceState, len(allSlices)),
		subs:        make(map[int]func(Event)),
		listeners:   make(map[int]func(Slice)),
		notif:       types.DefaultNotificationSettings(),
	}
	for _, sl := range allSlices {
		s.slices[sl] = &sliceState{}
	}

	loaded, err := cfg.Settings.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to load notification settings, using defaults", "error", err)
	} else {
		s.notif = loaded
	}

	return s
}

// =============================================================================
// REST SNAPSHOTS
// =============================================================================

// FetchActiveAlerts replaces the active collection. Alerts already known to
// be resolved are skipped so a stale snapshot cannot revive them.
func (s *Store) FetchActiveAlerts(ctx context.Context) error {
	return s.fetch(ctx, SliceActive, func(ctx context.Context) (func(), error) {
		alerts, err := s.api.Alerts(ctx, client.AlertQuery{Status: types.AlertStatusActive, Limit: s.fetchLimit})
		if err != nil {
			return nil, err
		}
		return func() {
			keep := alerts[:0:0]
			for _, a := range alerts {
				if a.Resolved || s.resolved.has(a.ID) {
					continue
				}
				keep = append(keep, a)
			}
			s.active.reset(keep)
		}, nil
	})
}

// FetchResolvedAlerts replaces the resolved collection and drops any of its
// ids from the active collection.
func (s *Store) FetchResolvedAlerts(ctx context.Context) error {
	return s.fetch(ctx, SliceResolved, func(ctx context.Context) (func(), error) {
		alerts, err := s.api.Alerts(ctx, client.AlertQuery{Status: types.AlertStatusResolved, Limit: s.fetchLimit})
		if err != nil {
			return nil, err
		}
		return func() {
			s.resolved.reset(alerts)
			for _, a := range alerts {
				s.active.remove(a.ID)
			}
		}, nil
	})
}

// FetchTimeline replaces the timeline with the most recent entries.
// limit <= 0 fetches up to the timeline cap.
func (s *Store) FetchTimeline(ctx context.Context, limit int) error {
	if limit <= 0 || limit > s.timelineCap {
		limit = s.timelineCap
	}
	return s.fetch(ctx, SliceTimeline, func(ctx context.Context) (func(), error) {
		entries, err := s.api.Timeline(ctx, limit)
		if err != nil {
			return nil, err
		}
		return func() {
			tl := append([]types.IncidentTimelineEntry(nil), entries...)
			sort.SliceStable(tl, func(i, j int) bool { return tl[i].Timestamp.After(tl[j].Timestamp) })
			if len(tl) > s.timelineCap {
				tl = tl[:s.timelineCap]
			}
			s.timeline = tl
		}, nil
	})
}

// RefreshAll fetches every collection concurrently and waits for all.
// A failure never cancels the other fetches; the joined errors are returned.
func (s *Store) RefreshAll(ctx context.Context) error {
	fetches := []func(context.Context) error{
		s.FetchActiveAlerts,
		s.FetchResolvedAlerts,
		func(ctx context.Context) error { return s.FetchTimeline(ctx, 0) },
	}
	errs := make([]error, len(fetches))

	var g errgroup.Group
	for i, fetch := range fetches {
		g.Go(func() error {
			errs[i] = fetch(ctx)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (s *Store) fetch(ctx context.Context, sl Slice, load func(context.Context) (func(), error)) error {
	s.mu.Lock()
	s.slices[sl].inFlight++
	s.mu.Unlock()

	apply, err := load(ctx)

	s.mu.Lock()
	st := s.slices[sl]
	st.inFlight--
	if err != nil {
		st.err = err.Error()
		s.mu.Unlock()

		telemetry.FetchErrors.WithLabelValues("alerts", string(sl)).Inc()
		s.logger.Warn("fetch failed, keeping previous data",
			"slice", sl,
			"error", err)
		s.notify(sl)
		return fmt.Errorf("fetching %s alerts: %w", sl, err)
	}
	apply()
	st.err = ""
	st.lastUpdate = s.clock.Now()
	s.mu.Unlock()

	s.notify(sl)
	return nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// ResolveAlert asks the server to resolve id. On success the alert leaves
// the active collection and the resolved collection is refetched to pick up
// the server-assigned resolvedAt. Any server failure reports false.
func (s *Store) ResolveAlert(ctx context.Context, id, resolvedBy string) bool {
	if err := s.api.ResolveAlert(ctx, id, resolvedBy); err != nil {
		s.logger.Warn("failed to resolve alert", "alert_id", id, "error", err)
		return false
	}

	s.mu.Lock()
	removed, ok := s.active.remove(id)
	notif := s.notif
	s.mu.Unlock()

	s.logger.Info("alert resolved", "alert_id", id, "resolved_by", resolvedBy)
	if ok {
		s.notify(SliceActive)
		removed.Resolved = true
		s.emit(Event{Type: EventAlertResolved, Alert: removed, Settings: notif})
	}

	// The refetch error is already recorded on the resolved slice.
	_ = s.FetchResolvedAlerts(ctx)
	return true
}

// AcknowledgeAlert records acknowledgedBy on an active alert. It reports
// false without calling the server when id is not active.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, acknowledgedBy string) bool {
	s.mu.RLock()
	known := s.active.has(id)
	s.mu.RUnlock()
	if !known {
		s.logger.Debug("acknowledge skipped, alert not active", "alert_id", id)
		return false
	}

	if err := s.api.AcknowledgeAlert(ctx, id, acknowledgedBy); err != nil {
		s.logger.Warn("failed to acknowledge alert", "alert_id", id, "error", err)
		return false
	}

	s.mu.Lock()
	a, ok := s.active.get(id)
	if ok {
		now := s.clock.Now()
		a.AcknowledgedBy = acknowledgedBy
		a.AcknowledgedAt = &now
		s.active.replace(a)
	}
	notif := s.notif
	s.mu.Unlock()

	s.logger.Info("alert acknowledged", "alert_id", id, "acknowledged_by", acknowledgedBy)
	if ok {
		s.notify(SliceActive)
		s.emit(Event{Type: EventAlertAcknowledged, Alert: a.Clone(), Settings: notif})
	}
	return true
}

// AddAlert applies an alert-triggered push. A new id is prepended to the
// active collection and an EventAlertTriggered is emitted; a known active id
// is replaced in place silently. Resolved alerts are routed to UpdateAlert.
func (s *Store) AddAlert(alert types.Alert) {
	if alert.Resolved {
		s.UpdateAlert(alert)
		return
	}

	s.mu.Lock()
	switch {
	case s.active.has(alert.ID):
		s.active.replace(alert)
		s.mu.Unlock()
		s.logger.Debug("duplicate alert delivery", "alert_id", alert.ID)
		s.notify(SliceActive)
		return
	case s.resolved.has(alert.ID):
		s.mu.Unlock()
		s.logger.Debug("ignoring trigger for resolved alert", "alert_id", alert.ID)
		return
	}
	s.active.prepend(alert)
	notif := s.notif
	s.mu.Unlock()

	s.logger.Info("alert triggered",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"component", alert.Component)
	s.notify(SliceActive)
	s.emit(Event{Type: EventAlertTriggered, Alert: alert.Clone(), Settings: notif})
}

// UpdateAlert applies a status change. A resolved alert moves from active to
// the front of resolved in one step. An unresolved one replaces its active
// entry; an id that is not active is ignored, so its later alert-triggered
// frame still counts as new.
func (s *Store) UpdateAlert(alert types.Alert) {
	s.mu.Lock()
	if alert.Resolved {
		_, wasActive := s.active.remove(alert.ID)
		s.resolved.prepend(alert)
		notif := s.notif
		s.mu.Unlock()

		if wasActive {
			s.logger.Info("alert resolved", "alert_id", alert.ID)
			s.notify(SliceActive)
		}
		s.notify(SliceResolved)
		if wasActive {
			s.emit(Event{Type: EventAlertResolved, Alert: alert.Clone(), Settings: notif})
		}
		return
	}

	replaced := s.active.replace(alert)
	s.mu.Unlock()

	if !replaced {
		s.logger.Debug("ignoring update for unknown alert", "alert_id", alert.ID)
		return
	}
	s.notify(SliceActive)
}

// AddTimelineEntry inserts entry in reverse-chronological position and
// truncates the timeline to its cap. A repeated id is ignored.
func (s *Store) AddTimelineEntry(entry types.IncidentTimelineEntry) {
	s.mu.Lock()
	for _, e := range s.timeline {
		if entry.ID != "" && e.ID == entry.ID {
			s.mu.Unlock()
			return
		}
	}

	i := sort.Search(len(s.timeline), func(i int) bool {
		return !s.timeline[i].Timestamp.After(entry.Timestamp)
	})
	s.timeline = append(s.timeline, types.IncidentTimelineEntry{})
	copy(s.timeline[i+1:], s.timeline[i:])
	s.timeline[i] = entry

	if len(s.timeline) > s.timelineCap {
		s.timeline = s.timeline[:s.timelineCap]
	}
	s.mu.Unlock()

	s.notify(SliceTimeline)
}

// =============================================================================
// PUSH HANDLERS
// =============================================================================

// Events lists the push message types the store consumes.
func Events() []string {
	return []string{
		types.MessageAlertTriggered,
		types.MessageAlertResolved,
		types.MessageAlertUpdated,
		types.MessageAlertAcknowledged,
		types.MessageIncidentUpdate,
	}
}

// Attach registers the push handlers on bus and returns a func that
// removes them.
func (s *Store) Attach(bus Bus) (detach func()) {
	ids := map[string]conn.HandlerID{
		types.MessageAlertTriggered:    bus.On(types.MessageAlertTriggered, s.handleTriggered),
		types.MessageAlertResolved:     bus.On(types.MessageAlertResolved, s.handleResolved),
		types.MessageAlertUpdated:      bus.On(types.MessageAlertUpdated, s.handleUpdated),
		types.MessageAlertAcknowledged: bus.On(types.MessageAlertAcknowledged, s.handleUpdated),
		types.MessageIncidentUpdate:    bus.On(types.MessageIncidentUpdate, s.handleIncident),
	}
	return func() {
		for msgType, id := range ids {
			bus.Off(msgType, id)
		}
	}
}

func decodeAlert(msg types.Message) (types.Alert, error) {
	var a types.Alert
	if err := msg.DecodeData(&a); err != nil {
		return a, err
	}
	if a.ID == "" {
		return a, fmt.Errorf("%s payload missing id", msg.Type)
	}
	return a, nil
}

func (s *Store) handleTriggered(msg types.Message) error {
	a, err := decodeAlert(msg)
	if err != nil {
		return err
	}
	s.AddAlert(a)
	return nil
}

func (s *Store) handleResolved(msg types.Message) error {
	a, err := decodeAlert(msg)
	if err != nil {
		return err
	}
	a.Resolved = true
	if a.ResolvedAt == nil {
		at := msg.Timestamp
		if at.IsZero() {
			at = s.clock.Now()
		}
		a.ResolvedAt = &at
	}
	s.UpdateAlert(a)
	return nil
}

func (s *Store) handleUpdated(msg types.Message) error {
	a, err := decodeAlert(msg)
	if err != nil {
		return err
	}
	s.UpdateAlert(a)
	return nil
}

func (s *Store) handleIncident(msg types.Message) error {
	var e types.IncidentTimelineEntry
	if err := msg.DecodeData(&e); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = msg.Timestamp
	}
	s.AddTimelineEntry(e)
	return nil
}

// =============================================================================
// SETTINGS
// =============================================================================

// NotificationSettings returns the current toggles.
func (s *Store) NotificationSettings() types.NotificationSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notif
}

// SetSoundEnabled toggles the audible cue for critical alerts and persists it.
func (s *Store) SetSoundEnabled(ctx context.Context, enabled bool) error {
	return s.updateSettings(ctx, func(n *types.NotificationSettings) { n.SoundEnabled = enabled })
}

// SetDesktopEnabled toggles desktop notifications and persists it.
func (s *Store) SetDesktopEnabled(ctx context.Context, enabled bool) error {
	return s.updateSettings(ctx, func(n *types.NotificationSettings) { n.DesktopEnabled = enabled })
}

// updateSettings applies fn in memory first; a save failure is returned but
// the in-memory value stays.
func (s *Store) updateSettings(ctx context.Context, fn func(*types.NotificationSettings)) error {
	s.mu.Lock()
	fn(&s.notif)
	snapshot := s.notif
	s.mu.Unlock()

	if err := s.settings.Save(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist notification settings", "error", err)
		return fmt.Errorf("saving notification settings: %w", err)
	}
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

// OnChange registers fn to run after any collection changes or a fetch
// completes. fn runs on the goroutine that made the change and must not
// block.
func (s *Store) OnChange(fn func(Slice)) (cancel func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify(sl Slice) {
	s.listenersMu.Lock()
	fns := make([]func(Slice), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(sl)
	}
}

// Subscribe registers fn for domain events. fn runs on the goroutine that
// applied the change, after the store lock is released.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) emit(ev Event) {
	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
