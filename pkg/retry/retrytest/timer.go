// Package retrytest provides a backoff timer that fires immediately and records
// the delays it was asked to wait, for asserting retry schedules in tests.
package retrytest

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Timer struct {
	mu     sync.Mutex
	c      chan time.Time
	delays []time.Duration
}

var _ backoff.Timer = (*Timer)(nil)

func NewTimer() *Timer {
	return &Timer{c: make(chan time.Time, 1)}
}

func (t *Timer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()

	select {
	case t.c <- time.Now():
	default:
	}
}

func (t *Timer) Stop() {}

func (t *Timer) C() <-chan time.Time {
	return t.c
}

// Delays returns a copy of every duration passed to Start.
func (t *Timer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.delays))
	copy(out, t.delays)
	return out
}

// Factory hands out fresh timers and keeps them for later inspection.
type Factory struct {
	mu     sync.Mutex
	timers []*Timer
}

func (f *Factory) New() backoff.Timer {
	t := NewTimer()
	f.mu.Lock()
	f.timers = append(f.timers, t)
	f.mu.Unlock()
	return t
}

// Delays flattens the delays of every timer created so far.
func (f *Factory) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Duration
	for _, t := range f.timers {
		out = append(out, t.Delays()...)
	}
	return out
}
