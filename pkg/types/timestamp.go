package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TIMESTAMPS
// =============================================================================

// The server emits ISO-8601 strings that are not always RFC 3339: the zone
// may be missing, the date and time may be separated by a space, and an
// unset value may arrive as "". Zone-less values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseTimestamp parses an ISO-8601 timestamp. The empty string yields the
// zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Timestamp is a time.Time that decodes leniently from JSON. It accepts
// ISO-8601 strings (see ParseTimestamp), "", null, and numbers as Unix
// milliseconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		var ms float64
		if err := json.Unmarshal(data, &ms); err != nil {
			return fmt.Errorf("decoding timestamp: %w", err)
		}
		t.Time = time.UnixMilli(int64(ms)).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ptr returns nil for a missing or zero timestamp.
func (t *Timestamp) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// UnmarshalJSON decodes the envelope. An unreadable timestamp is dropped
// rather than failing the frame, since dispatch depends only on Type.
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := struct {
		*Alias
		Timestamp json.RawMessage `json:"timestamp"`
	}{Alias: (*Alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var ts Timestamp
	if len(aux.Timestamp) > 0 {
		_ = ts.UnmarshalJSON(aux.Timestamp)
	}
	m.Timestamp = ts.Time
	return nil
}

// UnmarshalJSON implements json.Unmarshaler with lenient timestamps.
func (a *Alert) UnmarshalJSON(data []byte) error {
	type Alias Alert
	aux := struct {
		*Alias
		Timestamp      Timestamp  `json:"timestamp"`
		ResolvedAt     *Timestamp `json:"resolvedAt"`
		AcknowledgedAt *Timestamp `json:"acknowledgedAt"`
	}{Alias: (*Alias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.Timestamp = aux.Timestamp.Time
	a.ResolvedAt = aux.ResolvedAt.ptr()
	a.AcknowledgedAt = aux.AcknowledgedAt.ptr()
	return nil
}

// UnmarshalJSON implements json.Unmarshaler with lenient timestamps.
func (n *NotificationAttempt) UnmarshalJSON(data []byte) error {
	type Alias NotificationAttempt
	aux := struct {
		*Alias
		Timestamp Timestamp `json:"timestamp"`
	}{Alias: (*Alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	n.Timestamp = aux.Timestamp.Time
	return nil
}

// UnmarshalJSON implements json.Unmarshaler with lenient timestamps.
func (e *IncidentTimelineEntry) UnmarshalJSON(data []byte) error {
	type Alias IncidentTimelineEntry
	aux := struct {
		*Alias
		Timestamp Timestamp `json:"timestamp"`
	}{Alias: (*Alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Timestamp = aux.Timestamp.Time
	return nil
}

// UnmarshalJSON implements json.Unmarshaler with lenient timestamps.
func (s *SystemHealthSummary) UnmarshalJSON(data []byte) error {
	type Alias SystemHealthSummary
	aux := struct {
		*Alias
		Timestamp Timestamp `json:"timestamp"`
	}{Alias: (*Alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.Timestamp = aux.Timestamp.Time
	return nil
}

// UnmarshalJSON implements json.Unmarshaler with lenient timestamps.
func (a *AgentHealthStatus) UnmarshalJSON(data []byte) error {
	type Alias AgentHealthStatus
	aux := struct {
		*Alias
		LastActivity Timestamp `json:"lastActivity"`
	}{Alias: (*Alias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.LastActivity = aux.LastActivity.Time
	return nil
}
