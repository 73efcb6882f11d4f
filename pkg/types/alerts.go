// Package types - Real-time alerts and the incident timeline
//
// # Alert Lifecycle
//
//	active ──acknowledge──▶ active (acknowledgedBy set)
//	   │                        │
//	   └─────────resolve────────┴──▶ resolved
//
// Resolution is a collection move on the client: an alert is in exactly one
// of the active or resolved collections at any time.
package types

import "time"

// =============================================================================
// ALERT
// =============================================================================

// Alert is a real-time alert raised by the server. ID is server-assigned.
type Alert struct {
	ID              string                `json:"id"`
	Type            string                `json:"type"`
	Severity        AlertSeverity         `json:"severity"`
	Title           string                `json:"title"`
	Message         string                `json:"message"`
	Component       string                `json:"component"`
	Timestamp       time.Time             `json:"timestamp"`
	Resolved        bool                  `json:"resolved"`
	ResolvedAt      *time.Time            `json:"resolvedAt,omitempty"`
	AcknowledgedBy  string                `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt  *time.Time            `json:"acknowledgedAt,omitempty"`
	EscalationLevel int                   `json:"escalationLevel"`
	Notifications   []NotificationAttempt `json:"notifications,omitempty"`
	Tags            []string              `json:"tags,omitempty"`
}

// Acknowledged reports whether someone has acknowledged the alert.
func (a Alert) Acknowledged() bool {
	return a.AcknowledgedBy != ""
}

// Clone returns a copy that shares no slices or pointers with a.
func (a Alert) Clone() Alert {
	out := a
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		out.AcknowledgedAt = &t
	}
	if a.Notifications != nil {
		out.Notifications = append([]NotificationAttempt(nil), a.Notifications...)
	}
	if a.Tags != nil {
		out.Tags = append([]string(nil), a.Tags...)
	}
	return out
}

// AlertSeverity classifies alert urgency.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

// NotificationAttempt records one delivery attempt made by the server.
type NotificationAttempt struct {
	Channel   string    `json:"channel"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// AlertStatusFilter selects alerts by lifecycle state on GET /api/alerts.
type AlertStatusFilter string

const (
	AlertStatusActive   AlertStatusFilter = "active"
	AlertStatusResolved AlertStatusFilter = "resolved"
)

// AlertStats are counts derived from the client's alert collections.
type AlertStats struct {
	Active       int `json:"active"`
	Critical     int `json:"critical"`
	Warning      int `json:"warning"`
	Info         int `json:"info"`
	Acknowledged int `json:"acknowledged"`
	Resolved     int `json:"resolved"`
}

// =============================================================================
// INCIDENT TIMELINE
// =============================================================================

// IncidentTimelineEntry is one append-only entry of the incident log.
type IncidentTimelineEntry struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Type        string        `json:"type"`
	Component   string        `json:"component"`
	Severity    AlertSeverity `json:"severity"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	UserID      string        `json:"userId,omitempty"`
}
