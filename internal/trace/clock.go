package trace

import (
	"sync"
	"time"
)

// Clock reports seconds elapsed since a fixed process epoch.
type Clock interface {
	Now() float64
}

type systemClock struct {
	epoch time.Time
}

func (c systemClock) Now() float64 {
	return time.Since(c.epoch).Seconds()
}

// SystemClock is anchored at package initialization and uses the monotonic
// clock reading of time.Now.
var SystemClock Clock = systemClock{epoch: time.Now()}

// ManualClock only moves when told to. Safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

// NewManualClock creates a ManualClock reading start.
func NewManualClock(start float64) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current reading.
func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d seconds and returns the new reading.
func (c *ManualClock) Advance(d float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	return c.now
}
