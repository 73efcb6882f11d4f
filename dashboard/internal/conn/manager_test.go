package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pilot-net/healthdash/dashboard/internal/clock"
	"github.com/pilot-net/healthdash/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeTransport is an in-memory Transport.
type fakeTransport struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu        sync.Mutex
	err       error
	written   [][]byte
	closeCode int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case <-t.closed:
		t.mu.Lock()
		defer t.mu.Unlock()
		return nil, t.err
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.written = append(t.written, data)
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.fail(code, &websocket.CloseError{Code: code, Text: reason})
	return nil
}

// fail simulates the server closing the connection.
func (t *fakeTransport) fail(code int, err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.err = err
		t.closeCode = code
		t.mu.Unlock()
		close(t.closed)
	})
}

func (t *fakeTransport) push(msgType string, data any) {
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(types.Message{Type: msgType, Data: raw, Timestamp: time.Now()})
	t.inbound <- frame
}

func (t *fakeTransport) sent() []types.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Message, 0, len(t.written))
	for _, w := range t.written {
		var m types.Message
		if err := json.Unmarshal(w, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) sentTypes() []string {
	var out []string
	for _, m := range t.sent() {
		out = append(out, m.Type)
	}
	return out
}

// fakeDialer hands out fakeTransports. failFrom makes dial n (1-based) and
// later fail; gate, when set, blocks dials until closed.
type fakeDialer struct {
	mu         sync.Mutex
	dials      int
	transports []*fakeTransport
	failFrom   int
	gate       chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if d.failFrom > 0 && n >= d.failFrom {
		return nil, fmt.Errorf("connection refused (dial %d)", n)
	}

	t := newFakeTransport()
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) transport(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}

type harness struct {
	m       *Manager
	dialer  *fakeDialer
	clock   *clock.Fake
	giveUps int
	mu      sync.Mutex
}

func newHarness(t *testing.T, dialer *fakeDialer, maxAttempts int) *harness {
	t.Helper()
	h := &harness{dialer: dialer, clock: clock.NewFake(time.Unix(1700000000, 0))}
	h.m = NewManager(Config{
		URL:                  "ws://dash.test/ws",
		Source:               "test-client",
		ReconnectInterval:    time.Second,
		MaxReconnectDelay:    5 * time.Second,
		MaxReconnectAttempts: maxAttempts,
		HeartbeatInterval:    30 * time.Second,
		Dialer:               dialer,
		Clock:                h.clock,
		Logger:               testLogger(),
		OnGiveUp: func(int) {
			h.mu.Lock()
			h.giveUps++
			h.mu.Unlock()
		},
	})
	t.Cleanup(h.m.Disconnect)
	return h
}

func (h *harness) giveUpCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.giveUps
}

func TestConnect_IdempotentWhilePending(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	h := newHarness(t, dialer, 5)

	errs := make(chan error, 2)
	go func() { errs <- h.m.Connect(context.Background()) }()
	waitFor(t, "connecting status", func() bool { return h.m.Status() == StatusConnecting })
	go func() { errs <- h.m.Connect(context.Background()) }()

	close(dialer.gate)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Connect returned error: %v", err)
		}
	}

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect while connected returned error: %v", err)
	}
	if got := dialer.count(); got != 1 {
		t.Errorf("expected exactly one transport dial, got %d", got)
	}
	if h.m.Status() != StatusConnected {
		t.Errorf("expected connected, got %s", h.m.Status())
	}
}

func TestAbnormalCloseSchedulesReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	h := newHarness(t, dialer, 5)

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dialer.transport(0).fail(websocket.CloseAbnormalClosure,
		&websocket.CloseError{Code: websocket.CloseAbnormalClosure})
	waitFor(t, "reconnect scheduled", func() bool { return h.m.ReconnectAttempts() == 1 })

	scheduled := h.clock.Scheduled()
	if last := scheduled[len(scheduled)-1]; last != time.Second {
		t.Errorf("expected first reconnect after 1s, got %v", last)
	}
	if h.m.Status() != StatusDisconnected {
		t.Errorf("expected disconnected while waiting, got %s", h.m.Status())
	}

	h.clock.Advance(time.Second)

	if h.m.Status() != StatusConnected {
		t.Fatalf("expected reconnected, got %s", h.m.Status())
	}
	if got := h.m.ReconnectAttempts(); got != 0 {
		t.Errorf("expected attempts reset to 0, got %d", got)
	}
	if got := dialer.count(); got != 2 {
		t.Errorf("expected 2 dials, got %d", got)
	}
}

func TestReconnectGivesUpOnce(t *testing.T) {
	const maxAttempts = 3
	dialer := &fakeDialer{failFrom: 2}
	h := newHarness(t, dialer, maxAttempts)

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	dialer.transport(0).fail(websocket.CloseAbnormalClosure, io.ErrUnexpectedEOF)
	waitFor(t, "reconnect scheduled", func() bool { return h.m.ReconnectAttempts() == 1 })

	for i := 0; i < 5; i++ {
		h.clock.Advance(5 * time.Second)
	}

	if got := h.giveUpCount(); got != 1 {
		t.Errorf("expected exactly one give-up notification, got %d", got)
	}
	if got := dialer.count(); got != 1+maxAttempts {
		t.Errorf("expected %d dials, got %d", 1+maxAttempts, got)
	}
	if h.m.Status() != StatusGivenUp {
		t.Errorf("expected given-up, got %s", h.m.Status())
	}
	if h.clock.Pending() != 0 {
		t.Errorf("expected no pending timers after giving up, got %d", h.clock.Pending())
	}

	h.clock.Advance(time.Hour)
	if got := dialer.count(); got != 1+maxAttempts {
		t.Errorf("dialed again after giving up: %d", got)
	}
}

func TestConnectAfterGiveUpStartsOver(t *testing.T) {
	dialer := &fakeDialer{failFrom: 1}
	h := newHarness(t, dialer, 1)

	if err := h.m.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	h.clock.Advance(time.Minute)
	if h.m.Status() != StatusGivenUp {
		t.Fatalf("expected given-up, got %s", h.m.Status())
	}

	dialer.mu.Lock()
	dialer.failFrom = 0
	dialer.mu.Unlock()

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after give-up failed: %v", err)
	}
	if h.m.Status() != StatusConnected || h.m.ReconnectAttempts() != 0 {
		t.Errorf("expected fresh connection, got %s attempts=%d", h.m.Status(), h.m.ReconnectAttempts())
	}
}

func TestReconnectDelay(t *testing.T) {
	interval := 3 * time.Second
	max := 10 * time.Second

	prev := time.Duration(0)
	for k := 1; k <= 20; k++ {
		d := ReconnectDelay(interval, max, k)
		if d < prev {
			t.Errorf("delay for attempt %d (%v) decreased from %v", k, d, prev)
		}
		if d > max {
			t.Errorf("delay for attempt %d (%v) exceeds cap %v", k, d, max)
		}
		prev = d
	}

	if got := ReconnectDelay(interval, max, 1); got != interval {
		t.Errorf("first attempt should wait one interval, got %v", got)
	}
	if got := ReconnectDelay(interval, max, 3); got != 9*time.Second {
		t.Errorf("third attempt should wait 9s, got %v", got)
	}
}

func TestDispatchPreservesOrder(t *testing.T) {
	dialer := &fakeDialer{}
	h := newHarness(t, dialer, 5)

	var mu sync.Mutex
	var typed, wildcard []string
	h.m.On(types.MessageAgentStatusUpdate, func(msg types.Message) error {
		var a types.AgentHealthStatus
		if err := msg.DecodeData(&a); err != nil {
			return err
		}
		mu.Lock()
		typed = append(typed, a.AgentID)
		mu.Unlock()
		return nil
	})
	h.m.On(types.MessageWildcard, func(msg types.Message) error {
		mu.Lock()
		wildcard = append(wildcard, msg.Type)
		mu.Unlock()
		return nil
	})

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tr := dialer.transport(0)
	for _, id := range []string{"m1", "m2", "m3"} {
		tr.push(types.MessageAgentStatusUpdate, types.AgentHealthStatus{AgentID: id})
	}

	waitFor(t, "three dispatches", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(typed) == 3 && len(wildcard) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"m1", "m2", "m3"} {
		if typed[i] != want {
			t.Errorf("position %d: expected %s, got %s", i, want, typed[i])
		}
	}
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	dialer := &fakeDialer{}
	h := newHarness(t, dialer, 5)

	reached := make(chan struct{}, 1)
	h.m.On(types.MessageAlertTriggered, func(types.Message) error { panic("boom") })
	h.m.On(types.MessageAlertTriggered, func(types.Message) error { return errors.New("bad payload") })
	h.m.On(types.MessageAlertTriggered, func(types.Message) error {
		reached <- struct{}{}
		return nil
	})

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	dialer.transport(0).push(types.MessageAlertTriggered, map[string]string{"id": "a1"})

	select {
	case <-reached:
	case <-time.After(2 * time.Second):
		t.Fatal("third handler never ran")
	}
	if !h.m.IsConnected() {
		t.Error("handler failures should not affect the connection")
	}
}

func TestOffRemovesHandler(t *testing.T) {
	h := newHarness(t, &fakeDialer{}, 5)

	id := h.m.On(types.MessageIncidentUpdate, func(types.Message) error { return nil })
	if !h.m.Off(types.MessageIncidentUpdate, id) {
		t.Error("expected Off to find the registration")
	}
	if h.m.Off(types.MessageIncidentUpdate, id) {
		t.Error("expected second Off to report false")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	h := newHarness(t, &fakeDialer{}, 5)

	if h.m.Send(types.MessagePing, struct{}{}) {
		t.Error("expected Send to report false while disconnected")
	}
}

func TestSendEnvelope(t *testing.T) {
	dialer := &fakeDialer{}
	h := newHarness(t, dialer, 5)

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !h.m.Subscribe(types.MessageAlertTriggered, types.MessageAgentStatusUpdate) {
		t.Fatal("Subscribe failed")
	}

	sent := dialer.transport(0).sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sent))
	}
	msg := sent[0]
	if msg.Type != types.MessageSubscribe {
		t.Errorf("expected subscribe, got %s", msg.Type)
	}
	if msg.CorrelationID == "" {
		t.Error("expected a correlation id")
	}
	if msg.Source != "test-client" {
		t.Errorf("expected source test-client, got %s", msg.Source)
	}
	var req types.SubscriptionRequest
	if err := msg.DecodeData(&req); err != nil {
		t.Fatalf("decoding subscribe payload: %v", err)
	}
	if len(req.Events) != 2 {
		t.Errorf("expected 2 events, got %v", req.Events)
	}
}

func TestHeartbeat(t *testing.T) {
	dialer := &fakeDialer{}
	h := newHarness(t, dialer, 5)

	var mu sync.Mutex
	var dispatched []string
	h.m.On(types.MessageWildcard, func(msg types.Message) error {
		mu.Lock()
		dispatched = append(dispatched, msg.Type)
		mu.Unlock()
		return nil
	})

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tr := dialer.transport(0)

	h.clock.Advance(30 * time.Second)
	h.clock.Advance(30 * time.Second)
	pings := 0
	for _, typ := range tr.sentTypes() {
		if typ == types.MessagePing {
			pings++
		}
	}
	if pings != 2 {
		t.Errorf("expected 2 heartbeat pings, got %d", pings)
	}

	tr.push(types.MessagePing, struct{}{})
	waitFor(t, "pong reply", func() bool {
		for _, typ := range tr.sentTypes() {
			if typ == types.MessagePong {
				return true
			}
		}
		return false
	})

	tr.push(types.MessagePong, struct{}{})
	waitFor(t, "pong recorded", func() bool { return !h.m.LastPong().IsZero() })

	// A marker message proves earlier frames were fully processed.
	tr.push(types.MessageGetStatus, struct{}{})
	waitFor(t, "marker dispatched", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dispatched) > 0
	})
	mu.Lock()
	defer mu.Unlock()
	if len(dispatched) != 1 || dispatched[0] != types.MessageGetStatus {
		t.Errorf("ping/pong leaked to subscribers: %v", dispatched)
	}
}

func TestDisconnectStopsReconnection(t *testing.T) {
	dialer := &fakeDialer{}
	h := newHarness(t, dialer, 5)

	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tr := dialer.transport(0)

	h.m.Disconnect()

	if h.m.Status() != StatusDisconnected {
		t.Errorf("expected disconnected, got %s", h.m.Status())
	}
	tr.mu.Lock()
	code := tr.closeCode
	tr.mu.Unlock()
	if code != websocket.CloseNormalClosure {
		t.Errorf("expected normal closure, got %d", code)
	}

	h.clock.Advance(time.Hour)
	if got := dialer.count(); got != 1 {
		t.Errorf("expected no reconnect after Disconnect, got %d dials", got)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", h.clock.Pending())
	}
	if h.m.Send(types.MessagePing, struct{}{}) {
		t.Error("Send should fail after Disconnect")
	}
}

func TestDisconnectDuringDialDiscardsTransport(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	h := newHarness(t, dialer, 5)

	errs := make(chan error, 1)
	go func() { errs <- h.m.Connect(context.Background()) }()
	waitFor(t, "connecting status", func() bool { return h.m.Status() == StatusConnecting })

	h.m.Disconnect()
	close(dialer.gate)

	if err := <-errs; !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if h.m.Status() != StatusDisconnected {
		t.Errorf("expected disconnected, got %s", h.m.Status())
	}
	select {
	case <-dialer.transport(0).closed:
	default:
		t.Error("late transport was not closed")
	}
}

func TestDialFailureSchedulesReconnect(t *testing.T) {
	dialer := &fakeDialer{failFrom: 1}
	h := newHarness(t, dialer, 5)

	if err := h.m.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if got := h.m.ReconnectAttempts(); got != 1 {
		t.Errorf("expected one scheduled attempt, got %d", got)
	}
	if h.clock.Pending() != 1 {
		t.Errorf("expected a pending reconnect timer, got %d", h.clock.Pending())
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	dialer := &fakeDialer{}
	h := newHarness(t, dialer, 5)

	got := make(chan string, 4)
	h.m.On(types.MessageWildcard, func(msg types.Message) error {
		got <- msg.Type
		return nil
	})
	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tr := dialer.transport(0)
	tr.inbound <- []byte("not json")
	tr.inbound <- []byte(`{"type":"","data":{}}`)
	tr.push(types.MessageResourceUpdate, map[string]any{})

	select {
	case typ := <-got:
		if typ != types.MessageResourceUpdate {
			t.Errorf("expected resource-update first, got %s", typ)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame never dispatched")
	}
	if !h.m.IsConnected() {
		t.Error("malformed frames should not close the connection")
	}
}

func TestFramesWithLooseTimestampsAreDispatched(t *testing.T) {
	dialer := &fakeDialer{}
	h := newHarness(t, dialer, 5)

	got := make(chan types.Message, 8)
	h.m.On(types.MessageAlertTriggered, func(msg types.Message) error {
		got <- msg
		return nil
	})
	if err := h.m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	stamps := []string{`"2025-01-01T10:00:00.000Z"`, `"2025-01-01T10:00:00"`, `""`, `null`}
	tr := dialer.transport(0)
	for i, ts := range stamps {
		tr.inbound <- []byte(fmt.Sprintf(`{"type":"alert-triggered","data":{"id":"a%d"},"timestamp":%s}`, i, ts))
	}

	for i := range stamps {
		select {
		case msg := <-got:
			var payload struct{ ID string }
			if err := msg.DecodeData(&payload); err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
			if want := fmt.Sprintf("a%d", i); payload.ID != want {
				t.Errorf("frame %d: expected %s, got %s", i, want, payload.ID)
			}
			if i == 1 && !msg.Timestamp.Equal(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)) {
				t.Errorf("expected zone-less timestamp read as UTC, got %v", msg.Timestamp)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d frames dispatched", i, len(stamps))
		}
	}
}
