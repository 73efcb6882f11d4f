package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339 utc", "2025-01-01T10:00:00Z", want},
		{"fractional seconds", "2025-01-01T10:00:00.000Z", want},
		{"offset", "2025-01-01T12:00:00+02:00", want},
		{"no zone", "2025-01-01T10:00:00", want},
		{"no zone fractional", "2025-01-01T10:00:00.000", want},
		{"space separator", "2025-01-01 10:00:00", want},
		{"date only", "2025-01-01", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"empty", "", time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) failed: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error for unrecognized timestamp")
	}
}

func TestMessage_LenientTimestamp(t *testing.T) {
	for _, ts := range []string{`"2025-01-01T10:00:00.000Z"`, `"2025-01-01T10:00:00"`, `""`, `null`, `"garbage"`, `1735725600000`} {
		frame := `{"type":"alert-triggered","data":{"id":"a1"},"timestamp":` + ts + `}`

		var msg Message
		if err := json.Unmarshal([]byte(frame), &msg); err != nil {
			t.Errorf("timestamp %s: unmarshal failed: %v", ts, err)
			continue
		}
		if msg.Type != MessageAlertTriggered || string(msg.Data) != `{"id":"a1"}` {
			t.Errorf("timestamp %s: envelope not decoded: %+v", ts, msg)
		}
	}
}

func TestAlert_LenientTimestamps(t *testing.T) {
	data := `{
		"id": "a1",
		"severity": "critical",
		"timestamp": "2025-01-01T10:00:00",
		"resolved": true,
		"resolvedAt": "2025-01-01 10:05:00",
		"acknowledgedAt": "",
		"notifications": [{"channel": "email", "timestamp": "", "success": true}]
	}`

	var a Alert
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if a.ID != "a1" || a.Severity != SeverityCritical || !a.Resolved {
		t.Errorf("plain fields not decoded: %+v", a)
	}
	if !a.Timestamp.Equal(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", a.Timestamp)
	}
	if a.ResolvedAt == nil || !a.ResolvedAt.Equal(time.Date(2025, 1, 1, 10, 5, 0, 0, time.UTC)) {
		t.Errorf("unexpected resolvedAt %v", a.ResolvedAt)
	}
	if a.AcknowledgedAt != nil {
		t.Errorf("expected empty acknowledgedAt to decode as nil, got %v", a.AcknowledgedAt)
	}
	if len(a.Notifications) != 1 || !a.Notifications[0].Timestamp.IsZero() {
		t.Errorf("unexpected notifications %+v", a.Notifications)
	}
}

func TestTimelineEntry_LenientTimestamp(t *testing.T) {
	var entries []IncidentTimelineEntry
	data := `[{"id":"t1","timestamp":"2025-01-01T10:00:00"},{"id":"t2","timestamp":""}]`
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Timestamp.IsZero() || !entries[1].Timestamp.IsZero() {
		t.Errorf("unexpected entries %+v", entries)
	}
}
