// Package throttle provides the rate gate between sample ingestion and
// consumer redraws.
package throttle

import (
	"sync"
	"time"
)

// DefaultInterval is the minimum time between consumer redraws
// (roughly a 50Hz ceiling; in practice the stream renders near 20fps).
const DefaultInterval = 20 * time.Millisecond

// RenderThrottle decides whether an append should trigger a redraw.
// Skipped renders are never replayed; the next qualifying append carries
// the accumulated state instead.
type RenderThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// New creates a throttle with the given minimum interval.
// Non-positive intervals fall back to DefaultInterval.
func New(interval time.Duration) *RenderThrottle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &RenderThrottle{interval: interval}
}

// ShouldRender reports whether a redraw may happen at now. When it
// returns true the last-render timestamp advances, closing the gate for
// the next interval.
func (t *RenderThrottle) ShouldRender(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

// Interval returns the configured minimum interval.
func (t *RenderThrottle) Interval() time.Duration {
	return t.interval
}
