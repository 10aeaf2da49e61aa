package player

import (
	"context"
	"errors"
	"io"
	"sync"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Feed yields a session's events for one participant. Every (re)connection
// starts with a sync event; Next returns io.EOF once the feed is over.
type Feed interface {
	Next(ctx context.Context) (domain.Event, error)
}

// Follow folds the feed into the view until the feed ends, the game finishes
// or ctx is done.
func (v *View) Follow(ctx context.Context, feed Feed) error {
	for {
		event, err := feed.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		v.Apply(event)
		if v.Stage() == StageFinished {
			return nil
		}
	}
}

// Service is the in-process game API a Local player uses.
type Service interface {
	Subscribe(ctx context.Context, sessionID string) (app.Subscription, error)
	Snapshot(ctx context.Context, sessionID, playerID string) (domain.Snapshot, error)
	SubmitAnswer(ctx context.Context, sessionID, playerID string, questionIndex, answerIndex int) (domain.AnswerReceipt, error)
}

// Local is a Feed and Submitter backed directly by the service, for players
// living in the same process as the host.
type Local struct {
	service   Service
	sessionID string
	playerID  string

	mu      sync.Mutex
	sub     app.Subscription
	pending *domain.Event
	closed  bool
}

// NewLocal subscribes first and snapshots second, so nothing published in
// between is missed.
func NewLocal(ctx context.Context, service Service, sessionID, playerID string) (*Local, error) {
	l := &Local{service: service, sessionID: sessionID, playerID: playerID}
	if err := l.subscribe(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Next returns the pending sync first. When the bus cuts the subscription off
// it resubscribes and starts over with a fresh sync.
func (l *Local) Next(ctx context.Context) (domain.Event, error) {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return domain.Event{}, io.EOF
		}
		if l.pending != nil {
			event := *l.pending
			l.pending = nil
			l.mu.Unlock()
			return event, nil
		}
		sub := l.sub
		l.mu.Unlock()

		select {
		case event, ok := <-sub.Events():
			if ok {
				return event, nil
			}
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		}

		_ = sub.Close()
		if err := l.subscribe(ctx); err != nil {
			return domain.Event{}, err
		}
	}
}

func (l *Local) SubmitAnswer(ctx context.Context, questionIndex, answerIndex int) (domain.AnswerReceipt, error) {
	return l.service.SubmitAnswer(ctx, l.sessionID, l.playerID, questionIndex, answerIndex)
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.sub == nil {
		return nil
	}
	return l.sub.Close()
}

func (l *Local) subscribe(ctx context.Context) error {
	sub, err := l.service.Subscribe(ctx, l.sessionID)
	if err != nil {
		return err
	}
	snapshot, err := l.service.Snapshot(ctx, l.sessionID, l.playerID)
	if err != nil {
		_ = sub.Close()
		return err
	}
	event, err := domain.NewEvent(domain.EventSync, snapshot)
	if err != nil {
		_ = sub.Close()
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return sub.Close()
	}
	l.sub, l.pending = sub, &event
	return nil
}
