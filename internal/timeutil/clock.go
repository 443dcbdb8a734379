// Package timeutil provides a testable abstraction over wall-clock time
// for frame timestamps and session timing.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// MockClock is a manually controlled Clock for tests.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock returns a MockClock set to start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

// Now returns the mock time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the mock duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the mock time forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the mock time to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// FrameClock stamps recorded frames at a fixed rate: every call to Now
// returns the next frame's time, starting at start. Since measures against
// the last stamp, so a replay reports elapsed stream time rather than
// wall time.
type FrameClock struct {
	mu     sync.Mutex
	start  time.Time
	step   time.Duration
	frames int64
}

// NewFrameClock returns a FrameClock ticking at fps frames per second.
// A non-positive fps falls back to 30.
func NewFrameClock(start time.Time, fps float64) *FrameClock {
	if fps <= 0 {
		fps = 30
	}
	return &FrameClock{start: start, step: time.Duration(float64(time.Second) / fps)}
}

// Now returns the timestamp of the next frame.
func (c *FrameClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.frames) * c.step)
	c.frames++
	return t
}

// Since returns the stream time from t to the most recent stamp.
func (c *FrameClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := c.start
	if c.frames > 0 {
		last = c.start.Add(time.Duration(c.frames-1) * c.step)
	}
	return last.Sub(t)
}
