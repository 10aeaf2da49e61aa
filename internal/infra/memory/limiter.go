package memory

import (
	"context"
	"sync"
	"time"
)

const sweepThreshold = 4096

// Limiter is a fixed-window counter per key.
type Limiter struct {
	limit  int64
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

type window struct {
	count   int64
	resetAt time.Time
}

func NewLimiter(limit int64, size time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  size,
		now:     time.Now,
		windows: make(map[string]window),
	}
}

// Allow counts one hit for key and reports whether it is within the limit.
func (l *Limiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		if len(l.windows) >= sweepThreshold {
			l.sweepLocked(now)
		}
		w = window{resetAt: now.Add(l.window)}
	}
	w.count++
	l.windows[key] = w
	return w.count <= l.limit, nil
}

func (l *Limiter) sweepLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
