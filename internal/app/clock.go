package app

import (
	"sync"
	"time"
)

// Clock counts one question down, one tick per interval.
type Clock struct {
	stop     chan struct{}
	stopOnce sync.Once
	expire   sync.Once
}

// StartClock ticks seconds-1, seconds-2, ... 0 through onTick, then stops itself
// and calls onExpire exactly once. Callbacks run on the clock's goroutine.
func StartClock(seconds int, interval time.Duration, onTick func(remaining int), onExpire func()) *Clock {
	c := &Clock{stop: make(chan struct{})}
	go c.run(seconds, interval, onTick, onExpire)
	return c
}

func (c *Clock) run(seconds int, interval time.Duration, onTick func(int), onExpire func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	remaining := seconds
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		// A stop that raced the tick wins.
		select {
		case <-c.stop:
			return
		default:
		}

		remaining--
		if remaining < 0 {
			remaining = 0
		}
		onTick(remaining)
		if remaining == 0 {
			c.Stop()
			c.expire.Do(onExpire)
			return
		}
	}
}

// Stop cancels the countdown. It never blocks and may be called from a callback.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
