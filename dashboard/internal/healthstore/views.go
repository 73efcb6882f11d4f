package healthstore

import (
	"sort"
	"time"

	"github.com/pilot-net/healthdash/pkg/types"
)

// SliceError is the last fetch error of one slice.
type SliceError struct {
	Slice Slice
	Error string
}

// System returns a copy of the system summary and whether one is known.
func (s *Store) System() (types.SystemHealthSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.system == nil {
		return types.SystemHealthSummary{}, false
	}
	return s.system.Clone(), true
}

// Agents returns every known agent ordered by id.
func (s *Store) Agents() []types.AgentHealthStatus {
	s.mu.RLock()
	out := make([]types.AgentHealthStatus, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Agent returns one agent by id.
func (s *Store) Agent(id string) (types.AgentHealthStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	return a, ok
}

// Resources returns a copy of the resource map.
func (s *Store) Resources() map[string]types.ResourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.ResourceStatus, len(s.resources))
	for k, v := range s.resources {
		out[k] = v
	}
	return out
}

// AgentCounts tallies the known agents by status.
func (s *Store) AgentCounts() types.AgentCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c types.AgentCounts
	for _, a := range s.agents {
		c.Add(a.Status)
	}
	return c
}

// Loading reports whether any slice has a fetch in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.slices {
		if st.inFlight > 0 {
			return true
		}
	}
	return false
}

// Errors returns the current error of every failing slice, in slice order.
func (s *Store) Errors() []SliceError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SliceError
	for _, sl := range allSlices {
		if e := s.slices[sl].err; e != "" {
			out = append(out, SliceError{Slice: sl, Error: e})
		}
	}
	return out
}

// LastUpdate returns when a slice was last written by either path.
func (s *Store) LastUpdate(sl Slice) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.slices[sl]; ok {
		return st.lastUpdate
	}
	return time.Time{}
}

// OverallStatus is the worst of the reported system status, every resource
// level and the agent failure ratio. Any failed agent degrades the system;
// half or more failed makes it unhealthy.
func (s *Store) OverallStatus() types.OverallStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := types.OverallHealthy
	resources := s.resources
	if s.system != nil {
		status = types.Worst(status, s.system.Status)
		if len(resources) == 0 {
			resources = s.system.ResourceStatus
		}
	}

	for _, r := range resources {
		status = types.Worst(status, resourceOverall(r.Status))
	}

	var counts types.AgentCounts
	for _, a := range s.agents {
		counts.Add(a.Status)
	}
	switch {
	case counts.Failed == 0:
	case counts.Failed*2 >= counts.Total:
		status = types.Worst(status, types.OverallUnhealthy)
	default:
		status = types.Worst(status, types.OverallDegraded)
	}

	return status
}

func resourceOverall(level types.ResourceLevel) types.OverallStatus {
	switch level {
	case types.ResourceCritical:
		return types.OverallCritical
	case types.ResourceWarning:
		return types.OverallDegraded
	default:
		return types.OverallHealthy
	}
}
