package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_StartsAtTickOne(t *testing.T) {
	clock := NewFakeClock(epoch)
	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, uint64(1), clock.Tick())
}

func TestFakeClock_AdvanceMovesTimeAndTick(t *testing.T) {
	clock := NewFakeClock(epoch)

	clock.Advance(time.Hour)
	assert.Equal(t, epoch.Add(time.Hour), clock.Now())
	assert.Equal(t, uint64(2), clock.Tick())

	clock.Advance(-time.Hour)
	assert.Equal(t, epoch.Add(time.Hour), clock.Now(), "time never moves backwards")
	assert.Equal(t, uint64(3), clock.Tick())
}

func TestFakeClock_NextTickKeepsTime(t *testing.T) {
	clock := NewFakeClock(epoch)
	assert.Equal(t, uint64(2), clock.NextTick())
	assert.Equal(t, epoch, clock.Now())
}

func TestFakeClock_Set(t *testing.T) {
	clock := NewFakeClock(epoch)
	clock.Set(epoch.Add(48 * time.Hour))
	assert.Equal(t, epoch.Add(48*time.Hour), clock.Now())
	assert.Equal(t, uint64(1), clock.Tick())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(epoch)
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
	}
	wg.Wait()

	assert.Equal(t, epoch.Add(goroutines*time.Second), clock.Now())
	assert.Equal(t, uint64(goroutines+1), clock.Tick())
}
