package testutil

import (
	"sync"
	"time"
)

// FakeClock is a manually driven clock for tests and simulations. It keeps
// wall time and the scheduling tick separately so tests can move either one
// without the other.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	tick uint64
}

// NewFakeClock creates a clock at start, on tick 1.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start, tick: 1}
}

// Now returns the current instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick returns the current tick.
func (c *FakeClock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Advance moves time forward by d and starts a new tick, the way a new block
// both advances the timestamp and the block number. Negative d is ignored.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	c.tick++
}

// NextTick starts a new tick without moving time.
func (c *FakeClock) NextTick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	return c.tick
}

// Set jumps to t without changing the tick.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
