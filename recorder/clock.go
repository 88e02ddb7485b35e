package recorder

import (
	"fmt"
	"sync"
	"time"
)

// clock measures recorded time: wall time since start minus time spent
// paused. It reads a monotonic source, so it does not drift with the
// status tick.
type clock struct {
	mu  sync.Mutex
	now func() time.Time

	started     bool
	running     bool
	startedAt   time.Time
	resumedAt   time.Time
	pausedAt    time.Time
	accumulated time.Duration
	pausedTotal time.Duration
}

func newClock(now func() time.Time) *clock {
	if now == nil {
		now = time.Now
	}
	return &clock{now: now}
}

func (c *clock) Start() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	c.started = true
	c.running = true
	c.startedAt = t
	c.resumedAt = t
	c.accumulated = 0
	c.pausedTotal = 0
	return t
}

func (c *clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	t := c.now()
	c.accumulated += t.Sub(c.resumedAt)
	c.pausedAt = t
	c.running = false
}

func (c *clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.running {
		return
	}
	t := c.now()
	c.pausedTotal += t.Sub(c.pausedAt)
	c.resumedAt = t
	c.running = true
}

// Stop freezes the clock and returns the final elapsed time.
func (c *clock) Stop() time.Duration {
	c.Pause()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	return c.accumulated
}

func (c *clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return c.accumulated + c.now().Sub(c.resumedAt)
	}
	return c.accumulated
}

func (c *clock) PausedTotal() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started && !c.running {
		return c.pausedTotal + c.now().Sub(c.pausedAt)
	}
	return c.pausedTotal
}

// FormatElapsed renders d as HH:MM:SS.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

func (c *clock) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}
