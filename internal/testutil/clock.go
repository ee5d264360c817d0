// Package testutil provides deterministic clocks and id generators so
// pipeline tests produce byte-identical runs and golden output.
package testutil

import (
	"sync"
	"time"
)

// FixedClock reports a controllable wall-clock time.
//
// Now returns the current value and then advances it by Step, so a clock
// with a positive Step yields strictly increasing times while a zero Step
// always returns the same instant.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FixedClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFixedClock creates a clock starting at start that never moves on its own.
func NewFixedClock(start time.Time) *FixedClock {
	return &FixedClock{now: start.UTC()}
}

// NewSteppingClock creates a clock that advances by step after each Now call.
func NewSteppingClock(start time.Time, step time.Duration) *FixedClock {
	return &FixedClock{now: start.UTC(), step: step}
}

// Now returns the current time and advances the clock by its step.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
