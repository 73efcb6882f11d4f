package effects

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pilot-net/healthdash/dashboard/internal/alertstore"
	"github.com/pilot-net/healthdash/dashboard/internal/testutil"
	"github.com/pilot-net/healthdash/pkg/types"
)

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	panic bool
	got   []string
}

func (n *fakeNotifier) Notify(ctx context.Context, alert types.Alert) error {
	if n.panic {
		panic("notification backend exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, alert.ID)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.got)
}

type fakeSound struct {
	mu    sync.Mutex
	plays int
	err   error
}

func (s *fakeSound) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return s.err
}

func triggered(severity types.AlertSeverity, ns types.NotificationSettings) alertstore.Event {
	return alertstore.Event{
		Type:     alertstore.EventAlertTriggered,
		Alert:    testutil.FixtureAlert(func(a *types.Alert) { a.Severity = severity }),
		Settings: ns,
	}
}

func TestHandle(t *testing.T) {
	both := types.NotificationSettings{SoundEnabled: true, DesktopEnabled: true}

	tests := []struct {
		name       string
		event      alertstore.Event
		wantNotify int
		wantPlays  int
	}{
		{"critical with everything on", triggered(types.SeverityCritical, both), 1, 1},
		{"warning never plays sound", triggered(types.SeverityWarning, both), 1, 0},
		{"desktop off", triggered(types.SeverityCritical, types.NotificationSettings{SoundEnabled: true}), 0, 1},
		{"sound off", triggered(types.SeverityCritical, types.NotificationSettings{DesktopEnabled: true}), 1, 0},
		{"non-trigger events ignored", alertstore.Event{
			Type:     alertstore.EventAlertResolved,
			Alert:    testutil.FixtureAlertCritical(),
			Settings: both,
		}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNotifier{}
			s := &fakeSound{}
			d := NewDispatcher(Config{Notifiers: []Notifier{n}, Sound: s, Logger: testutil.NewTestLogger()})

			d.Handle(context.Background(), tt.event)

			if n.count() != tt.wantNotify {
				t.Errorf("expected %d notifications, got %d", tt.wantNotify, n.count())
			}
			if s.plays != tt.wantPlays {
				t.Errorf("expected %d plays, got %d", tt.wantPlays, s.plays)
			}
		})
	}
}

func TestHandle_FailuresAreSwallowed(t *testing.T) {
	denied := &fakeNotifier{err: ErrPermissionDenied}
	exploding := &fakeNotifier{panic: true}
	ok := &fakeNotifier{}
	sound := &fakeSound{err: ErrUnsupported}

	d := NewDispatcher(Config{
		Notifiers: []Notifier{denied, exploding, ok},
		Sound:     sound,
		Logger:    testutil.NewTestLogger(),
	})

	d.Handle(context.Background(), triggered(types.SeverityCritical, types.DefaultNotificationSettings()))

	if ok.count() != 1 {
		t.Error("later notifiers should still run after failures")
	}
	if sound.plays != 1 {
		t.Error("sound should still be attempted")
	}
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(Config{QueueSize: 1, Logger: testutil.NewTestLogger()})

	ev := triggered(types.SeverityInfo, types.DefaultNotificationSettings())
	d.Enqueue(ev)
	d.Enqueue(ev)
	d.Enqueue(ev)

	if got := d.Dropped(); got != 2 {
		t.Errorf("expected 2 dropped events, got %d", got)
	}
}

func TestRun_ProcessesStoreEvents(t *testing.T) {
	n := &fakeNotifier{}
	d := NewDispatcher(Config{Notifiers: []Notifier{n}, Logger: testutil.NewTestLogger()})

	store := alertstore.New(context.Background(), alertstore.Config{Logger: testutil.NewTestLogger()})
	detach := d.Attach(store)
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	store.AddAlert(testutil.FixtureAlertCritical(func(a *types.Alert) { a.ID = "a9" }))

	deadline := time.Now().Add(2 * time.Second)
	for n.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n.count() != 1 || n.got[0] != "a9" {
		t.Errorf("expected notification for a9, got %v", n.got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestBell(t *testing.T) {
	var buf bytes.Buffer
	if err := NewBell(&buf).Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if buf.String() != "\a" {
		t.Errorf("expected BEL, got %q", buf.String())
	}

	if err := NewBell(nil).Play(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(testutil.NewTestLogger())
	if err := n.Notify(context.Background(), testutil.FixtureAlert()); err != nil {
		t.Errorf("Notify failed: %v", err)
	}
}

func TestNewRedisNotifier_Errors(t *testing.T) {
	if _, err := NewRedisNotifier("not a url", "", testutil.NewTestLogger()); err == nil {
		t.Error("expected invalid URL error")
	}
	if _, err := NewRedisNotifier("redis://127.0.0.1:1/0", "", testutil.NewTestLogger()); err == nil {
		t.Error("expected connection error")
	}
}
