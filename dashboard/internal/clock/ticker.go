package clock

import (
	"sync"
	"time"
)

// Ticker delivers the clock's time on C every interval until stopped. Like
// time.Ticker, a tick is dropped when the receiver has not taken the
// previous one.
type Ticker struct {
	C <-chan time.Time

	c        chan time.Time
	clock    Clock
	interval time.Duration

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

// NewTicker starts a ticker on c. interval must be positive.
func NewTicker(c Clock, interval time.Duration) *Ticker {
	if interval <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	ch := make(chan time.Time, 1)
	t := &Ticker{C: ch, c: ch, clock: c, interval: interval}

	t.mu.Lock()
	t.timer = c.AfterFunc(interval, t.fire)
	t.mu.Unlock()
	return t
}

func (t *Ticker) fire() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.c <- t.clock.Now():
	default:
	}
	t.timer = t.clock.AfterFunc(t.interval, t.fire)
}

// Stop turns off the ticker. No ticks are sent after Stop returns.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
