package app

import (
	"context"

	"live-quiz-service/internal/domain"
)

// SessionStore abstracts the durable rows of a game (in-memory, Postgres).
// Session fields are written by the host only; answer rows are unique per
// (session, player, question).
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	FindLiveSessionByPin(ctx context.Context, pin string) (domain.Session, error)
	UpdateSession(ctx context.Context, session domain.Session) error

	AddPlayer(ctx context.Context, player *domain.Player) error
	GetPlayer(ctx context.Context, sessionID, playerID string) (domain.Player, error)
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)

	InsertAnswer(ctx context.Context, answer *domain.Answer) error
	FindAnswer(ctx context.Context, sessionID, playerID, questionID string) (domain.Answer, error)
	ListAnswers(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error)
	// AwardPoints scores an answer and adds the points to its player in one step.
	// An answer that was already scored is left untouched.
	AwardPoints(ctx context.Context, answerID string, points int) (domain.Player, error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// PinRegistry reserves join codes while their session is live.
type PinRegistry interface {
	Reserve(ctx context.Context, pin, sessionID string) (bool, error)
	Release(ctx context.Context, pin string) error
}

// Bus is the per-session publish/subscribe channel. Delivery is best-effort and
// late subscribers get nothing that was published before they subscribed.
type Bus interface {
	Publish(ctx context.Context, sessionID string, event domain.Event) error
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// Subscription delivers events in publish order until closed.
type Subscription interface {
	Events() <-chan domain.Event
	Close() error
}
