package handlers

import (
	"sync"
	"time"
)

// Clock hands out server time that never goes backwards within the process.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock returns a Clock reading wall time in UTC.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the later of the wall clock and the last value handed out.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
