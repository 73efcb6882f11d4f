// Package conn manages the dashboard's single WebSocket connection.
//
// # Design
//
// A Manager owns at most one live transport. It provides publish/subscribe
// over typed messages and recovers from unexpected disconnects on its own:
//
//	disconnected ──Connect──▶ connecting ──ok──▶ connected
//	      ▲                       │                  │
//	      │                     fail            close (unintended)
//	      │                       ▼                  ▼
//	      └──────timer────── reconnect scheduled ◀───┘
//	                              │
//	                    attempts exhausted
//	                              ▼
//	                          given up (explicit Connect to leave)
//
// # Heartbeat
//
// While connected a ping is sent every HeartbeatInterval. Inbound pings are
// answered with a pong; inbound pongs only refresh LastPong. Neither reaches
// subscribers. Silence never closes the connection: only transport close
// and error events drive reconnection.
//
// # Dispatch
//
// A single reader goroutine decodes frames and runs handlers synchronously,
// so handlers observe messages in wire order. Handler errors and panics are
// logged and never stop the remaining handlers.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/healthdash/dashboard/internal/clock"
	"github.com/pilot-net/healthdash/dashboard/internal/telemetry"
	"github.com/pilot-net/healthdash/pkg/types"
)

var (
	// ErrDisconnected is returned to Connect callers whose dial was
	// superseded by Disconnect.
	ErrDisconnected = errors.New("connection manager disconnected")
)

// Status is the connection manager state.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusGivenUp
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusGivenUp:
		return "given-up"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Handler receives a dispatched message.
type Handler func(msg types.Message) error

// HandlerID identifies a registration for Off.
type HandlerID uint64

type registration struct {
	id      HandlerID
	handler Handler
}

// Config for the manager.
type Config struct {
	URL                  string
	Source               string        // Stamped on outgoing frames
	ReconnectInterval    time.Duration // Base delay, multiplied by the attempt number
	MaxReconnectDelay    time.Duration // Cap on any single reconnect delay
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration

	Dialer Dialer       // Transport factory (required)
	Clock  clock.Clock  // Timer source (optional)
	Logger *slog.Logger // Logger (optional)

	// OnGiveUp fires once each time reconnect attempts are exhausted.
	OnGiveUp func(attempts int)
	// OnStatusChange fires after every status transition.
	OnStatusChange func(Status)
}

// Manager owns the WebSocket connection.
type Manager struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu                sync.Mutex
	status            Status
	transport         Transport
	attempt           *dialAttempt
	generation        uint64
	reconnectAttempts int
	intentionalClose  bool
	reconnectTimer    clock.Timer
	heartbeatTimer    clock.Timer
	lastPong          time.Time
	deferred          []func()

	handlersMu sync.RWMutex
	handlers   map[string][]registration
	nextID     HandlerID
}

type dialAttempt struct {
	done chan struct{}
	err  error
}

// NewManager creates a manager. It does not connect.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 3 * time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Source == "" {
		cfg.Source = "healthdash"
	}

	return &Manager{
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "ws_manager"),
		handlers: make(map[string][]registration),
	}
}

// ReconnectDelay returns the wait before reconnect attempt n (1-based):
// interval*n, capped at max.
func ReconnectDelay(interval, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := interval * time.Duration(attempt)
	if d > max || d < 0 {
		return max
	}
	return d
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsConnected reports whether a transport is open.
func (m *Manager) IsConnected() bool {
	return m.Status() == StatusConnected
}

// ReconnectAttempts returns the consecutive reconnect attempts since the last
// successful connect.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}

// LastPong returns when the last pong arrived (zero if none).
func (m *Manager) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

// Connect opens the connection. It is idempotent: while a dial is pending
// every caller shares its result, and when already connected it returns nil.
// A failed dial is returned to the caller and, unless Disconnect was called,
// a reconnect is scheduled in the background. Calling Connect after the
// manager gave up starts over with a fresh attempt budget.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.intentionalClose = false
	if m.status == StatusGivenUp {
		m.reconnectAttempts = 0
		m.setStatusLocked(StatusDisconnected)
	}
	m.unlock()

	return m.connect(ctx)
}

func (m *Manager) connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case StatusConnected:
		m.mu.Unlock()
		return nil
	case StatusConnecting:
		a := m.attempt
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	a := &dialAttempt{done: make(chan struct{})}
	m.attempt = a
	gen := m.generation
	m.setStatusLocked(StatusConnecting)
	m.unlock()

	m.logger.Debug("dialing", "url", m.cfg.URL)
	t, err := m.cfg.Dialer.Dial(ctx, m.cfg.URL)

	m.mu.Lock()
	if gen != m.generation {
		// Disconnect ran while we were dialing; discard the result.
		if m.attempt == a {
			m.attempt = nil
		}
		a.err = ErrDisconnected
		close(a.done)
		m.unlock()
		if t != nil {
			t.Close(CloseNormalClosure, "client disconnected")
		}
		return ErrDisconnected
	}

	m.attempt = nil
	if err != nil {
		a.err = fmt.Errorf("dial %s: %w", m.cfg.URL, err)
		close(a.done)
		m.setStatusLocked(StatusDisconnected)
		m.logger.Warn("websocket connect failed",
			"url", m.cfg.URL,
			"attempt", m.reconnectAttempts,
			"error", err)
		m.scheduleReconnectLocked()
		m.unlock()
		return a.err
	}

	m.transport = t
	m.reconnectAttempts = 0
	m.setStatusLocked(StatusConnected)
	m.startHeartbeatLocked(t)
	close(a.done)
	m.unlock()

	m.logger.Info("websocket connected", "url", m.cfg.URL)
	go m.readLoop(t)
	return nil
}

// Disconnect closes the connection and cancels pending timers. No automatic
// reconnection happens until Connect is called again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.intentionalClose = true
	m.generation++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	t := m.transport
	m.transport = nil
	m.setStatusLocked(StatusDisconnected)
	m.unlock()

	if t != nil {
		if err := t.Close(CloseNormalClosure, "client disconnect"); err != nil {
			m.logger.Debug("close failed", "error", err)
		}
		m.logger.Info("websocket disconnected")
	}
}

// Send writes a message. It returns false when not connected or when the
// write fails; it never queues.
func (m *Manager) Send(msgType string, data any) bool {
	m.mu.Lock()
	t := m.transport
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || t == nil {
		m.logger.Debug("send skipped, not connected", "type", msgType)
		telemetry.MessagesSent.WithLabelValues(msgType, telemetry.OutcomeError).Inc()
		return false
	}

	payload, err := json.Marshal(data)
	if err != nil {
		m.logger.Warn("failed to marshal message data", "type", msgType, "error", err)
		telemetry.MessagesSent.WithLabelValues(msgType, telemetry.OutcomeError).Inc()
		return false
	}

	frame, err := json.Marshal(types.Message{
		Type:          msgType,
		Data:          payload,
		Timestamp:     m.clock.Now().UTC(),
		CorrelationID: uuid.NewString(),
		Source:        m.cfg.Source,
	})
	if err != nil {
		m.logger.Warn("failed to marshal message", "type", msgType, "error", err)
		telemetry.MessagesSent.WithLabelValues(msgType, telemetry.OutcomeError).Inc()
		return false
	}

	if err := t.WriteMessage(frame); err != nil {
		m.logger.Warn("failed to send message", "type", msgType, "error", err)
		telemetry.MessagesSent.WithLabelValues(msgType, telemetry.OutcomeError).Inc()
		return false
	}
	telemetry.MessagesSent.WithLabelValues(msgType, telemetry.OutcomeSuccess).Inc()
	return true
}

// Subscribe asks the server to push the given event types.
func (m *Manager) Subscribe(events ...string) bool {
	return m.Send(types.MessageSubscribe, types.SubscriptionRequest{Events: events})
}

// Unsubscribe asks the server to stop pushing the given event types.
func (m *Manager) Unsubscribe(events ...string) bool {
	return m.Send(types.MessageUnsubscribe, types.SubscriptionRequest{Events: events})
}

// RequestStatus asks the server for an immediate status push.
func (m *Manager) RequestStatus() bool {
	return m.Send(types.MessageGetStatus, struct{}{})
}

// On registers h for messages of msgType, or for every message when msgType
// is types.MessageWildcard. Handlers run in registration order.
func (m *Manager) On(msgType string, h Handler) HandlerID {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.nextID++
	m.handlers[msgType] = append(m.handlers[msgType], registration{id: m.nextID, handler: h})
	return m.nextID
}

// Off removes a registration. It reports whether one was found.
func (m *Manager) Off(msgType string, id HandlerID) bool {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	regs := m.handlers[msgType]
	for i, r := range regs {
		if r.id == id {
			m.handlers[msgType] = append(regs[:i:i], regs[i+1:]...)
			if len(m.handlers[msgType]) == 0 {
				delete(m.handlers, msgType)
			}
			return true
		}
	}
	return false
}

// readLoop reads frames until the transport fails.
func (m *Manager) readLoop(t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.handleClose(t, err)
			return
		}
		m.handleFrame(data)
	}
}

func (m *Manager) handleFrame(data []byte) {
	var msg types.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		return
	}
	if err := msg.Validate(); err != nil {
		m.logger.Warn("dropping invalid frame", "error", err)
		return
	}
	telemetry.MessagesReceived.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case types.MessagePing:
		m.Send(types.MessagePong, struct{}{})
		return
	case types.MessagePong:
		m.mu.Lock()
		m.lastPong = m.clock.Now()
		m.mu.Unlock()
		return
	}

	m.dispatch(msg)
}

func (m *Manager) dispatch(msg types.Message) {
	m.handlersMu.RLock()
	regs := make([]registration, 0, len(m.handlers[msg.Type])+len(m.handlers[types.MessageWildcard]))
	regs = append(regs, m.handlers[msg.Type]...)
	if msg.Type != types.MessageWildcard {
		regs = append(regs, m.handlers[types.MessageWildcard]...)
	}
	m.handlersMu.RUnlock()

	for _, r := range regs {
		m.invoke(r, msg)
	}
}

func (m *Manager) invoke(r registration, msg types.Message) {
	defer func() {
		if p := recover(); p != nil {
			telemetry.HandlerErrors.WithLabelValues(msg.Type).Inc()
			m.logger.Error("message handler panicked",
				"type", msg.Type,
				"handler_id", r.id,
				"panic", p)
		}
	}()
	if err := r.handler(msg); err != nil {
		telemetry.HandlerErrors.WithLabelValues(msg.Type).Inc()
		m.logger.Error("message handler failed",
			"type", msg.Type,
			"handler_id", r.id,
			"error", err)
	}
}

func (m *Manager) handleClose(t Transport, err error) {
	m.mu.Lock()
	if m.transport != t {
		// Closed by Disconnect or already replaced.
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.stopHeartbeatLocked()
	m.setStatusLocked(StatusDisconnected)
	m.logger.Warn("websocket closed",
		"code", CloseCode(err),
		"error", err)
	if !m.intentionalClose {
		m.scheduleReconnectLocked()
	}
	m.unlock()

	t.Close(CloseNormalClosure, "")
}

// scheduleReconnectLocked arms the reconnect timer or gives up.
func (m *Manager) scheduleReconnectLocked() {
	if m.intentionalClose {
		return
	}
	if m.reconnectAttempts >= m.cfg.MaxReconnectAttempts {
		if m.status != StatusGivenUp {
			attempts := m.reconnectAttempts
			m.setStatusLocked(StatusGivenUp)
			m.logger.Error("giving up on websocket reconnection, manual reconnect required",
				"attempts", attempts)
			if m.cfg.OnGiveUp != nil {
				onGiveUp := m.cfg.OnGiveUp
				m.deferred = append(m.deferred, func() { onGiveUp(attempts) })
			}
		}
		return
	}

	m.reconnectAttempts++
	delay := ReconnectDelay(m.cfg.ReconnectInterval, m.cfg.MaxReconnectDelay, m.reconnectAttempts)
	telemetry.ReconnectAttempts.Inc()
	m.logger.Info("scheduling reconnect",
		"attempt", m.reconnectAttempts,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"delay", delay)
	m.reconnectTimer = m.clock.AfterFunc(delay, m.reconnect)
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	m.reconnectTimer = nil
	if m.intentionalClose {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.connect(context.Background()); err != nil {
		m.logger.Debug("reconnect attempt failed", "error", err)
	}
}

func (m *Manager) startHeartbeatLocked(t Transport) {
	m.stopHeartbeatLocked()
	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.heartbeat(t)
	})
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
}

// heartbeat pings and re-arms itself for as long as t is the live transport.
func (m *Manager) heartbeat(t Transport) {
	m.mu.Lock()
	live := m.transport == t && m.status == StatusConnected
	m.mu.Unlock()
	if !live {
		return
	}

	m.Send(types.MessagePing, struct{}{})

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == t && m.status == StatusConnected {
		m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() {
			m.heartbeat(t)
		})
	}
}

// setStatusLocked records a transition and queues the change callback.
func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	m.status = s
	telemetry.ConnectionState.Set(float64(s))
	if m.cfg.OnStatusChange != nil {
		cb := m.cfg.OnStatusChange
		m.deferred = append(m.deferred, func() { cb(s) })
	}
}

// unlock releases mu and then runs callbacks queued while it was held.
func (m *Manager) unlock() {
	fns := m.deferred
	m.deferred = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
