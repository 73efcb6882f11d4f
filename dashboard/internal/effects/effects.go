// Package effects turns alert store events into user-facing notifications.
//
// The alert store only changes state and emits events. A Dispatcher
// subscribes to them and runs the side effects on its own goroutine:
//
//	alert-triggered ──▶ desktop enabled?            ──▶ every Notifier
//	                └─▶ sound enabled and critical? ──▶ Sound.Play
//
// Effects are best effort. A failure is logged and never reaches the store.
package effects

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/healthdash/dashboard/internal/alertstore"
	"github.com/pilot-net/healthdash/pkg/types"
)

var (
	// ErrPermissionDenied is returned by notifiers the user has not
	// authorized.
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrUnsupported is returned when the output device is unavailable.
	ErrUnsupported = errors.New("notification channel unsupported")
)

// Notifier delivers a desktop-style notification for an alert.
type Notifier interface {
	Notify(ctx context.Context, alert types.Alert) error
}

// Sound plays an audible cue.
type Sound interface {
	Play(ctx context.Context) error
}

// Source is where events come from. *alertstore.Store implements it.
type Source interface {
	Subscribe(fn func(alertstore.Event)) (unsubscribe func())
}

// Config for the dispatcher.
type Config struct {
	Notifiers     []Notifier
	Sound         Sound         // Optional
	QueueSize     int           // Pending events before drops (default: 64)
	EffectTimeout time.Duration // Per-effect bound (default: 5s)
	Logger        *slog.Logger
}

// Dispatcher runs notification effects for alert events.
type Dispatcher struct {
	notifiers []Notifier
	sound     Sound
	timeout   time.Duration
	logger    *slog.Logger

	queue chan alertstore.Event

	mu      sync.Mutex
	dropped int
}

// NewDispatcher creates a dispatcher. Call Run to start processing.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.EffectTimeout <= 0 {
		cfg.EffectTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		notifiers: cfg.Notifiers,
		sound:     cfg.Sound,
		timeout:   cfg.EffectTimeout,
		logger:    cfg.Logger.With("component", "effects"),
		queue:     make(chan alertstore.Event, cfg.QueueSize),
	}
}

// Attach subscribes the dispatcher to src.
func (d *Dispatcher) Attach(src Source) (detach func()) {
	return src.Subscribe(d.Enqueue)
}

// Enqueue hands an event to the worker without blocking. When the queue is
// full the event is dropped and counted.
func (d *Dispatcher) Enqueue(ev alertstore.Event) {
	select {
	case d.queue <- ev:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.logger.Warn("notification queue full, dropping event",
			"event", ev.Type,
			"alert_id", ev.Alert.ID)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Run processes events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.Handle(ctx, ev)
		}
	}
}

// Handle runs the effects for one event synchronously.
func (d *Dispatcher) Handle(ctx context.Context, ev alertstore.Event) {
	if ev.Type != alertstore.EventAlertTriggered {
		return
	}

	if ev.Settings.DesktopEnabled {
		for _, n := range d.notifiers {
			d.run(ctx, "notify", ev.Alert, func(ctx context.Context) error {
				return n.Notify(ctx, ev.Alert)
			})
		}
	}

	if ev.Settings.SoundEnabled && ev.Alert.Severity == types.SeverityCritical && d.sound != nil {
		d.run(ctx, "sound", ev.Alert, d.sound.Play)
	}
}

func (d *Dispatcher) run(ctx context.Context, effect string, alert types.Alert, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return fn(ctx)
	}()
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		d.logger.Warn("notification permission denied", "effect", effect, "alert_id", alert.ID)
	case errors.Is(err, ErrUnsupported):
		d.logger.Warn("notification channel unsupported", "effect", effect, "alert_id", alert.ID)
	default:
		d.logger.Warn("notification effect failed",
			"effect", effect,
			"alert_id", alert.ID,
			"error", err)
	}
}

// =============================================================================
// BUILT-IN EFFECTS
// =============================================================================

// Bell rings the terminal bell.
type Bell struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBell writes the BEL character to w. A nil writer makes Play report
// ErrUnsupported.
func NewBell(w io.Writer) *Bell {
	return &Bell{w: w}
}

// Play writes a single BEL.
func (b *Bell) Play(ctx context.Context) error {
	if b.w == nil {
		return ErrUnsupported
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.w.Write([]byte{'\a'}); err != nil {
		return fmt.Errorf("writing bell: %w", err)
	}
	return nil
}

// LogNotifier reports alerts through the logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs each alert at Warn.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

func (n *LogNotifier) Notify(ctx context.Context, alert types.Alert) error {
	n.logger.Warn("alert",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"title", alert.Title,
		"component", alert.Component,
		"message", alert.Message)
	return nil
}
