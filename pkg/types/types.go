// Package types defines the wire and domain types shared by the dashboard
// client, its stores and the CLI.
//
// # Design Principles
//
// 1. Wire fidelity: JSON tags follow the dashboard server's camelCase schema
// 2. Value types: stores hand out copies, never pointers into their state
// 3. Envelope dispatch: every push frame is a Message routed purely on Type
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// MESSAGE ENVELOPE
// =============================================================================

// Message is the envelope for every WebSocket frame in either direction.
//
// Data is kept raw so that the connection manager never needs to know the
// payload shape; handlers decode it with DecodeData.
type Message struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Source        string          `json:"source,omitempty"`
}

// Validate checks the envelope invariants.
func (m Message) Validate() error {
	if m.Type == "" {
		return fmt.Errorf("message type is required")
	}
	return nil
}

// DecodeData unmarshals the payload into v.
func (m Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %q has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decoding %q payload: %w", m.Type, err)
	}
	return nil
}

// Message types understood by the client.
const (
	// Wildcard subscribes a handler to every dispatched message.
	MessageWildcard = "*"

	// Liveness
	MessagePing = "ping"
	MessagePong = "pong"

	// Health
	MessageAgentStatusUpdate  = "agent-status-update"
	MessageSystemHealthUpdate = "system-health-update"
	MessageResourceUpdate     = "resource-update"

	// Alerts
	MessageAlertTriggered    = "alert-triggered"
	MessageAlertResolved     = "alert-resolved"
	MessageAlertUpdated      = "alert-updated"
	MessageAlertAcknowledged = "alert-acknowledged"
	MessageIncidentUpdate    = "incident-update"

	// Client requests
	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
	MessageGetStatus   = "get-status"
)

// SubscriptionRequest is the payload of subscribe and unsubscribe frames.
type SubscriptionRequest struct {
	Events []string `json:"events"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// NotificationSettings are the client-local notification toggles.
// They are the only durable state kept by the client.
type NotificationSettings struct {
	SoundEnabled   bool `json:"soundEnabled" yaml:"sound"`
	DesktopEnabled bool `json:"desktopEnabled" yaml:"desktop"`
}

// DefaultNotificationSettings enables both channels.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		SoundEnabled:   true,
		DesktopEnabled: true,
	}
}
