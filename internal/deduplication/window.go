package deduplication

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	id          string
	firstSeenAt time.Time
}

// Window is an in-process dedup store. Entries are kept in insertion order so
// expired ones are purged from the front in amortized O(1) per call.
type Window struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	order   *list.List
	entries map[string]*list.Element
}

type WindowOption func(*Window)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) WindowOption {
	return func(w *Window) {
		w.now = now
	}
}

func NewWindow(window time.Duration, opts ...WindowOption) *Window {
	w := &Window{
		window:  window,
		now:     time.Now,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Window) Claim(_ context.Context, id string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.purge(now)

	if _, seen := w.entries[id]; seen {
		return false, nil
	}
	w.entries[id] = w.order.PushBack(windowEntry{id: id, firstSeenAt: now})
	return true, nil
}

// purge drops entries at least one window old. Caller holds mu.
func (w *Window) purge(now time.Time) {
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		entry := front.Value.(windowEntry)
		if now.Sub(entry.firstSeenAt) < w.window {
			return
		}
		w.order.Remove(front)
		delete(w.entries, entry.id)
	}
}

func (w *Window) Size(context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.purge(w.now())
	return len(w.entries), nil
}
