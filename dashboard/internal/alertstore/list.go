package alertstore

import "github.com/pilot-net/healthdash/pkg/types"

// alertList is an id-keyed collection that remembers recency order,
// most recent first. An id appears at most once.
type alertList struct {
	ids  []string
	byID map[string]types.Alert
}

func newAlertList() alertList {
	return alertList{byID: make(map[string]types.Alert)}
}

func (l *alertList) len() int { return len(l.ids) }

func (l *alertList) get(id string) (types.Alert, bool) {
	a, ok := l.byID[id]
	return a, ok
}

func (l *alertList) has(id string) bool {
	_, ok := l.byID[id]
	return ok
}

// prepend adds a at the front. An existing entry with the same id is
// removed first.
func (l *alertList) prepend(a types.Alert) {
	l.remove(a.ID)
	l.ids = append(l.ids, "")
	copy(l.ids[1:], l.ids)
	l.ids[0] = a.ID
	l.byID[a.ID] = a
}

// replace swaps the entry with a's id in place. It reports false when the
// id is unknown.
func (l *alertList) replace(a types.Alert) bool {
	if !l.has(a.ID) {
		return false
	}
	l.byID[a.ID] = a
	return true
}

func (l *alertList) remove(id string) (types.Alert, bool) {
	a, ok := l.byID[id]
	if !ok {
		return types.Alert{}, false
	}
	delete(l.byID, id)
	for i, x := range l.ids {
		if x == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			break
		}
	}
	return a, true
}

// reset replaces the contents with alerts in the given order, keeping the
// first occurrence of a repeated id.
func (l *alertList) reset(alerts []types.Alert) {
	l.ids = make([]string, 0, len(alerts))
	l.byID = make(map[string]types.Alert, len(alerts))
	for _, a := range alerts {
		if a.ID == "" || l.has(a.ID) {
			continue
		}
		l.ids = append(l.ids, a.ID)
		l.byID[a.ID] = a
	}
}

// items returns deep copies in order.
func (l *alertList) items() []types.Alert {
	out := make([]types.Alert, 0, len(l.ids))
	for _, id := range l.ids {
		out = append(out, l.byID[id].Clone())
	}
	return out
}
