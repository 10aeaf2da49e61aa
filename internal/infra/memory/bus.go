package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const subscriberBuffer = 64

// Bus fans events out to in-process subscribers of a session.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[*subscription]struct{})}
}

// Publish never blocks on a slow subscriber. A subscriber whose buffer is full
// is cut off: its channel closes and it must resubscribe and resync.
func (b *Bus) Publish(_ context.Context, sessionID string, event domain.Event) error {
	var lagging []*subscription
	b.mu.RLock()
	for sub := range b.topics[sessionID] {
		if !sub.deliver(event) {
			lagging = append(lagging, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range lagging {
		b.remove(sub)
	}
	return nil
}

func (b *Bus) Subscribe(_ context.Context, sessionID string) (app.Subscription, error) {
	sub := &subscription{
		bus:       b,
		sessionID: sessionID,
		ch:        make(chan domain.Event, subscriberBuffer),
	}
	b.mu.Lock()
	subs, ok := b.topics[sessionID]
	if !ok {
		subs = make(map[*subscription]struct{})
		b.topics[sessionID] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[sub.sessionID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, sub.sessionID)
	}
	sub.shut()
}

type subscription struct {
	bus       *Bus
	sessionID string
	ch        chan domain.Event

	mu     sync.Mutex
	closed bool
}

func (s *subscription) Events() <-chan domain.Event {
	return s.ch
}

func (s *subscription) Close() error {
	s.bus.remove(s)
	s.shut()
	return nil
}

// deliver reports false when the buffer was full; the subscription is then
// closed and the event is not queued.
func (s *subscription) deliver(event domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- event:
		return true
	default:
		s.closed = true
		close(s.ch)
		return false
	}
}

func (s *subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
