// Package ratelimit counts requests per client in fixed one-minute windows.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the length of one counting window.
const DefaultWindow = time.Minute

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the current window ends.
	Reset time.Time
}

// Limiter decides whether a client may make another request.
type Limiter interface {
	Allow(key string) Decision
}

type counter struct {
	window int64
	count  int
}

// FixedWindow allows at most Limit requests per key within each window. The
// request that pushes a key's count above the limit is rejected, and every
// key starts again from zero when the window rolls over.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
	// lastPrune is the window stale entries were last dropped in.
	lastPrune int64
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *FixedWindow) {
		f.now = now
	}
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(f *FixedWindow) {
		if d > 0 {
			f.window = d
		}
	}
}

// NewFixedWindow creates a limiter allowing limit requests per key per window.
func NewFixedWindow(limit int, opts ...Option) *FixedWindow {
	f := &FixedWindow{
		limit:    limit,
		window:   DefaultWindow,
		now:      time.Now,
		counters: make(map[string]*counter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FixedWindow) windowOf(t time.Time) int64 {
	return t.UnixNano() / int64(f.window)
}

// Allow counts one request for key and reports whether it is within the limit.
func (f *FixedWindow) Allow(key string) Decision {
	now := f.now()
	current := f.windowOf(now)
	reset := time.Unix(0, (current+1)*int64(f.window))

	f.mu.Lock()
	defer f.mu.Unlock()

	if current != f.lastPrune {
		for k, c := range f.counters {
			if c.window != current {
				delete(f.counters, k)
			}
		}
		f.lastPrune = current
	}

	c, ok := f.counters[key]
	if !ok {
		c = &counter{window: current}
		f.counters[key] = c
	}
	c.count++

	remaining := f.limit - c.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   c.count <= f.limit,
		Limit:     f.limit,
		Remaining: remaining,
		Reset:     reset,
	}
}

// Len reports how many keys are currently tracked.
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.counters)
}

var _ Limiter = (*FixedWindow)(nil)
