// Package healthstore holds the client-side view of system and agent health.
//
// # Sources
//
// State arrives from two paths that share one set of setters:
//
//	REST snapshot (Fetch*, RefreshAll) ──┐
//	                                     ├──▶ setSystem / upsertAgents / setResources
//	WebSocket push (Attach handlers) ────┘
//
// Whichever write is applied last wins. A REST response that completes after
// a push overwrites it; that staleness window lasts until the next push or
// refresh tick.
//
// # Failure handling
//
// A failed fetch records an error string on its slice and keeps the previous
// data. Callers may ignore the returned error; it is also visible via Errors.
package healthstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pilot-net/healthdash/dashboard/internal/clock"
	"github.com/pilot-net/healthdash/dashboard/internal/conn"
	"github.com/pilot-net/healthdash/dashboard/internal/telemetry"
	"github.com/pilot-net/healthdash/pkg/types"
)

// Slice names an independently fetched part of the store.
type Slice string

const (
	SliceSystem    Slice = "system"
	SliceAgents    Slice = "agents"
	SliceResources Slice = "resources"
)

var allSlices = []Slice{SliceSystem, SliceAgents, SliceResources}

// API is the subset of the REST client the store needs.
type API interface {
	Status(ctx context.Context) (*types.SystemHealthSummary, error)
	Agents(ctx context.Context) ([]types.AgentHealthStatus, error)
	Resources(ctx context.Context) (map[string]types.ResourceStatus, error)
}

// Bus is where push handlers are registered. *conn.Manager implements it.
type Bus interface {
	On(msgType string, h conn.Handler) conn.HandlerID
	Off(msgType string, id conn.HandlerID) bool
}

type sliceState struct {
	inFlight   int
	err        string
	lastUpdate time.Time
}

// Store is the health state container. It is safe for concurrent use.
type Store struct {
	api    API
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.RWMutex
	system    *types.SystemHealthSummary
	agents    map[string]types.AgentHealthStatus
	resources map[string]types.ResourceStatus
	slices    map[Slice]*sliceState

	listenersMu sync.Mutex
	listeners   map[int]func(Slice)
	nextID      int
}

// New creates an empty store.
func New(api API, clk clock.Clock, logger *slog.Logger) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		api:       api,
		clock:     clk,
		logger:    logger.With("component", "health_store"),
		agents:    make(map[string]types.AgentHealthStatus),
		resources: make(map[string]types.ResourceStatus),
		slices:    make(map[Slice]*sliceState, len(allSlices)),
		listeners: make(map[int]func(Slice)),
	}
	for _, sl := range allSlices {
		s.slices[sl] = &sliceState{}
	}
	return s
}

// =============================================================================
// REST SNAPSHOTS
// =============================================================================

// FetchSystemHealth replaces the system summary from GET /status.
func (s *Store) FetchSystemHealth(ctx context.Context) error {
	return s.fetch(ctx, SliceSystem, func(ctx context.Context) (func(), error) {
		summary, err := s.api.Status(ctx)
		if err != nil {
			return nil, err
		}
		return func() { s.system = cloneSummary(summary) }, nil
	})
}

// FetchAgents replaces the agent collection from GET /agents.
func (s *Store) FetchAgents(ctx context.Context) error {
	return s.fetch(ctx, SliceAgents, func(ctx context.Context) (func(), error) {
		agents, err := s.api.Agents(ctx)
		if err != nil {
			return nil, err
		}
		return func() {
			s.agents = make(map[string]types.AgentHealthStatus, len(agents))
			s.upsertAgentsLocked(agents)
		}, nil
	})
}

// FetchResources replaces the resource map from GET /resources.
func (s *Store) FetchResources(ctx context.Context) error {
	return s.fetch(ctx, SliceResources, func(ctx context.Context) (func(), error) {
		resources, err := s.api.Resources(ctx)
		if err != nil {
			return nil, err
		}
		return func() {
			s.resources = make(map[string]types.ResourceStatus, len(resources))
			s.setResourcesLocked(resources)
		}, nil
	})
}

// RefreshAll runs every fetch concurrently and waits for all of them.
// A failing fetch never cancels the others; the joined errors are returned.
func (s *Store) RefreshAll(ctx context.Context) error {
	fetches := []func(context.Context) error{
		s.FetchSystemHealth,
		s.FetchAgents,
		s.FetchResources,
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

// fetch runs load with loading/error bookkeeping for one slice. load returns
// an apply func that is run under the write lock.
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

		telemetry.FetchErrors.WithLabelValues("health", string(sl)).Inc()
		s.logger.Warn("fetch failed, keeping previous data",
			"slice", sl,
			"error", err)
		s.notify(sl)
		return fmt.Errorf("fetching %s: %w", sl, err)
	}
	apply()
	st.err = ""
	st.lastUpdate = s.clock.Now()
	s.mu.Unlock()

	s.logger.Debug("slice refreshed", "slice", sl)
	s.notify(sl)
	return nil
}

// =============================================================================
// PUSH UPDATES
// =============================================================================

// ApplySystemHealth replaces the system summary as a unit.
func (s *Store) ApplySystemHealth(summary types.SystemHealthSummary) {
	s.mu.Lock()
	s.system = cloneSummary(&summary)
	s.slices[SliceSystem].lastUpdate = s.clock.Now()
	s.mu.Unlock()
	s.notify(SliceSystem)
}

// ApplyAgentUpdates upserts agents by id.
func (s *Store) ApplyAgentUpdates(agents ...types.AgentHealthStatus) {
	s.mu.Lock()
	s.upsertAgentsLocked(agents)
	s.slices[SliceAgents].lastUpdate = s.clock.Now()
	s.mu.Unlock()
	s.notify(SliceAgents)
}

// ApplyResources replaces each given resource key; other keys are untouched.
func (s *Store) ApplyResources(resources map[string]types.ResourceStatus) {
	s.mu.Lock()
	s.setResourcesLocked(resources)
	s.slices[SliceResources].lastUpdate = s.clock.Now()
	s.mu.Unlock()
	s.notify(SliceResources)
}

func (s *Store) upsertAgentsLocked(agents []types.AgentHealthStatus) {
	for _, a := range agents {
		if a.AgentID == "" {
			s.logger.Warn("ignoring agent update without id")
			continue
		}
		s.agents[a.AgentID] = a
	}
}

func (s *Store) setResourcesLocked(resources map[string]types.ResourceStatus) {
	for k, v := range resources {
		s.resources[k] = v
	}
}

// Attach registers the push handlers on bus and returns a func that
// removes them.
func (s *Store) Attach(bus Bus) (detach func()) {
	ids := map[string]conn.HandlerID{
		types.MessageAgentStatusUpdate:  bus.On(types.MessageAgentStatusUpdate, s.handleAgentStatus),
		types.MessageSystemHealthUpdate: bus.On(types.MessageSystemHealthUpdate, s.handleSystemHealth),
		types.MessageResourceUpdate:     bus.On(types.MessageResourceUpdate, s.handleResources),
	}
	return func() {
		for msgType, id := range ids {
			bus.Off(msgType, id)
		}
	}
}

// Events lists the push message types the store consumes.
func Events() []string {
	return []string{
		types.MessageAgentStatusUpdate,
		types.MessageSystemHealthUpdate,
		types.MessageResourceUpdate,
	}
}

// handleAgentStatus accepts a single agent object or an array of them.
func (s *Store) handleAgentStatus(msg types.Message) error {
	if len(msg.Data) > 0 && msg.Data[0] == '[' {
		var agents []types.AgentHealthStatus
		if err := msg.DecodeData(&agents); err != nil {
			return err
		}
		s.ApplyAgentUpdates(agents...)
		return nil
	}

	var agent types.AgentHealthStatus
	if err := msg.DecodeData(&agent); err != nil {
		return err
	}
	if agent.AgentID == "" {
		return fmt.Errorf("agent update missing agentId")
	}
	s.ApplyAgentUpdates(agent)
	return nil
}

func (s *Store) handleSystemHealth(msg types.Message) error {
	var summary types.SystemHealthSummary
	if err := msg.DecodeData(&summary); err != nil {
		return err
	}
	s.ApplySystemHealth(summary)
	return nil
}

func (s *Store) handleResources(msg types.Message) error {
	var resources map[string]types.ResourceStatus
	if err := msg.DecodeData(&resources); err != nil {
		return err
	}
	s.ApplyResources(resources)
	return nil
}

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// OnChange registers fn to run after any slice changes. fn runs on the
// goroutine that made the change and must not block.
func (s *Store) OnChange(fn func(Slice)) (cancel func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextID++
	id := s.nextID
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

func cloneSummary(in *types.SystemHealthSummary) *types.SystemHealthSummary {
	if in == nil {
		return nil
	}
	out := in.Clone()
	return &out
}
