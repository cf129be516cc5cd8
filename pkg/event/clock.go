package event

import (
	"sync"
	"time"
)

// Clock supplies the millisecond tick the scheduler runs on.
// The tick is 32 bits wide and wraps; all comparisons are wraparound-safe.
type Clock interface {
	NowMs() uint32
}

// SystemClock is a Clock backed by the monotonic system time.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock whose tick starts at zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// NowMs returns milliseconds since the clock was created, truncated to 32 bits.
func (c *SystemClock) NowMs() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// ManualClock is a Clock advanced explicitly, for tests and deterministic
// simulation.
type ManualClock struct {
	mu  sync.Mutex
	now uint32
}

// NewManualClock returns a manual clock starting at the given tick.
func NewManualClock(start uint32) *ManualClock {
	return &ManualClock{now: start}
}

// NowMs returns the current tick.
func (c *ManualClock) NowMs() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by ms.
func (c *ManualClock) Advance(ms uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

// Set moves the clock to an absolute tick.
func (c *ManualClock) Set(ms uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}

// timeGT reports whether tick a is after tick b.
func timeGT(a, b uint32) bool {
	return int32(a-b) > 0
}

// timeGTE reports whether tick a is at or after tick b.
func timeGTE(a, b uint32) bool {
	return int32(a-b) >= 0
}
