package auction

import "time"

// Clock supplies the current instant and the current scheduling tick.
//
// The tick is the unit the randomness service stamps requests with (a block
// number on chain). A trigger is only accepted for a request made in the same
// tick as the trigger call.
type Clock interface {
	Now() time.Time
	Tick() uint64
}

// SystemClock reads wall-clock time and derives ticks by dividing Unix time
// into fixed intervals.
type SystemClock struct {
	// TickInterval is the length of one tick. Zero means one second.
	TickInterval time.Duration
}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Tick implements Clock.
func (c SystemClock) Tick() uint64 {
	interval := c.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	return uint64(time.Now().UnixNano() / int64(interval))
}

// Elapsed returns to-from, clamped at zero.
func Elapsed(from, to time.Time) time.Duration {
	if !to.After(from) {
		return 0
	}
	return to.Sub(from)
}
