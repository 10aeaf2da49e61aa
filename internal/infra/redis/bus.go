package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const subscriberBuffer = 64

// Bus carries session events over Redis pub/sub so every instance serving a
// session sees the same stream. Channel: quiz:bus:{sessionID}.
type Bus struct {
	client *redis.Client
	log    logrus.FieldLogger
}

func NewBus(client *redis.Client, log logrus.FieldLogger) *Bus {
	return &Bus{client: client, log: log}
}

func (b *Bus) Publish(ctx context.Context, sessionID string, event domain.Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.client.Publish(ctx, channel(sessionID), raw).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// published after it returns is missed.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (app.Subscription, error) {
	ps := b.client.Subscribe(ctx, channel(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	sub := &subscription{
		ps:   ps,
		out:  make(chan domain.Event, subscriberBuffer),
		done: make(chan struct{}),
		log:  b.log.WithField("session", sessionID),
	}
	go sub.relay()
	return sub, nil
}

func channel(sessionID string) string {
	return "quiz:bus:" + sessionID
}

type subscription struct {
	ps   *redis.PubSub
	out  chan domain.Event
	done chan struct{}
	log  logrus.FieldLogger

	closeOnce sync.Once
	closing   atomic.Bool
}

func (s *subscription) Events() <-chan domain.Event {
	return s.out
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		err = s.ps.Close()
		<-s.done
	})
	return err
}

// relay ends, closing Events, whenever delivery can no longer be gapless: a
// broken connection, a silent resubscribe after reconnect, or a reader that
// fell a full buffer behind. The reader resubscribes and resyncs.
func (s *subscription) relay() {
	defer close(s.done)
	defer close(s.out)
	for {
		msg, err := s.ps.Receive(context.Background())
		if err != nil {
			if !s.closing.Load() {
				s.log.WithError(err).Warn("subscription lost")
			}
			return
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				s.log.Warn("resubscribed after reconnect, events may be missing")
				return
			}
		case *redis.Message:
			var event domain.Event
			if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
				s.log.WithError(err).Warn("drop undecodable event")
				continue
			}
			select {
			case s.out <- event:
			default:
				s.log.Warn("subscriber fell behind")
				return
			}
		}
	}
}
