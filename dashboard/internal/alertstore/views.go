package alertstore

import (
	"time"

	"github.com/pilot-net/healthdash/pkg/types"
)

// Filter selects which alerts Filtered and Page return.
// Empty Severity or Type match everything.
type Filter struct {
	ShowResolved bool
	Severity     types.AlertSeverity
	Type         string
}

func (f Filter) match(a types.Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	return true
}

// Page is one page of filtered alerts. Number is 1-based.
type Page struct {
	Items      []types.Alert
	Number     int
	TotalPages int
	Total      int
}

// SliceError is the last fetch error of one collection.
type SliceError struct {
	Slice Slice
	Error string
}

// ActiveAlerts returns the active alerts, most recent first.
func (s *Store) ActiveAlerts() []types.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.items()
}

// ResolvedAlerts returns the resolved alerts, most recent first.
func (s *Store) ResolvedAlerts() []types.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved.items()
}

// Alert looks an id up in both collections.
func (s *Store) Alert(id string) (types.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.active.get(id); ok {
		return a.Clone(), true
	}
	if a, ok := s.resolved.get(id); ok {
		return a.Clone(), true
	}
	return types.Alert{}, false
}

// Timeline returns the timeline, most recent first.
func (s *Store) Timeline() []types.IncidentTimelineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.IncidentTimelineEntry(nil), s.timeline...)
}

// SetFilter replaces the current filter.
func (s *Store) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// Filter returns the current filter.
func (s *Store) Filter() Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// Filtered returns the alerts selected by the current filter.
func (s *Store) Filtered() []types.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filteredLocked()
}

func (s *Store) filteredLocked() []types.Alert {
	src := &s.active
	if s.filter.ShowResolved {
		src = &s.resolved
	}
	var out []types.Alert
	for _, id := range src.ids {
		a := src.byID[id]
		if s.filter.match(a) {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Page returns page n (1-based) of the filtered alerts. n is clamped to the
// valid range.
func (s *Store) Page(n int) Page {
	s.mu.RLock()
	all := s.filteredLocked()
	size := s.pageSize
	s.mu.RUnlock()

	total := len(all)
	pages := (total + size - 1) / size
	if n < 1 {
		n = 1
	}
	if pages > 0 && n > pages {
		n = pages
	}

	start := (n - 1) * size
	end := min(start+size, total)
	var items []types.Alert
	if start < end {
		items = all[start:end]
	}

	return Page{
		Items:      items,
		Number:     n,
		TotalPages: pages,
		Total:      total,
	}
}

// Stats counts active alerts by severity and acknowledgement, plus the
// resolved total.
func (s *Store) Stats() types.AlertStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := types.AlertStats{
		Active:   s.active.len(),
		Resolved: s.resolved.len(),
	}
	for _, a := range s.active.byID {
		switch a.Severity {
		case types.SeverityCritical:
			st.Critical++
		case types.SeverityWarning:
			st.Warning++
		case types.SeverityInfo:
			st.Info++
		}
		if a.Acknowledged() {
			st.Acknowledged++
		}
	}
	return st
}

// Loading reports whether any collection has a fetch in flight.
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

// Errors returns the current error of every failing collection.
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

// LastUpdate returns when a collection was last replaced from REST.
func (s *Store) LastUpdate(sl Slice) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.slices[sl]; ok {
		return st.lastUpdate
	}
	return time.Time{}
}
