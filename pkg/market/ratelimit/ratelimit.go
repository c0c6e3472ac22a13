// Package ratelimit provides the fixed-window admission counter shared by all
// outbound REST calls.
package ratelimit

import (
	"sync"
	"time"
)

// Status is a point-in-time view of the current window.
type Status struct {
	Count   int       `json:"count"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"reset_at"`
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock overrides the time source; intended for tests.
func WithClock(now func() time.Time) Option {
	return func(w *FixedWindow) {
		if now != nil {
			w.now = now
		}
	}
}

// FixedWindow admits at most limit acquisitions per window. The window restarts
// on the first acquisition attempt after it has fully elapsed.
type FixedWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	start  time.Time
	count  int
	now    func() time.Time
}

// New builds a limiter whose first window starts now.
func New(limit int, window time.Duration, opts ...Option) *FixedWindow {
	w := &FixedWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.start = w.now()
	return w
}

// TryAcquire consumes one slot if available. A denial leaves the counter untouched.
func (w *FixedWindow) TryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if now.Sub(w.start) > w.window {
		w.start = now
		w.count = 0
	}
	if w.count >= w.limit {
		return false
	}
	w.count++
	return true
}

// Status reports the current count without mutating state.
func (w *FixedWindow) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	count := w.count
	if w.now().Sub(w.start) > w.window {
		count = 0
	}
	return Status{
		Count:   count,
		Limit:   w.limit,
		ResetAt: w.start.Add(w.window),
	}
}
