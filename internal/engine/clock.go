package engine

import (
	"sync"
	"time"
)

// EventClock reports the timestamp of the latest dispatched event, falling
// back to the wall clock until the first timestamped event arrives. Replays
// therefore compute the same entry expiries as the recorded session.
type EventClock struct {
	mu   sync.RWMutex
	last time.Time
	wall func() time.Time
}

func NewEventClock() *EventClock {
	return &EventClock{wall: time.Now}
}

func (c *EventClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last.IsZero() {
		return c.wall()
	}
	return c.last
}

// Advance moves the clock forward; earlier or zero timestamps are ignored
func (c *EventClock) Advance(t time.Time) {
	if t.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}

// WallClock is the live-trading clock
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }
