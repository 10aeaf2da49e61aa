package domain

import (
	"fmt"
	"time"
)

// SessionStatus is the persisted lifecycle of a game session.
type SessionStatus string

const (
	StatusLobby    SessionStatus = "lobby"
	StatusPlaying  SessionStatus = "playing"
	StatusFinished SessionStatus = "finished"
)

// CanTransitionTo reports whether moving from s to next follows lobby -> playing -> finished.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case StatusLobby:
		return next == StatusLobby || next == StatusPlaying
	case StatusPlaying:
		return next == StatusPlaying || next == StatusFinished
	default:
		return false
	}
}

// Session is one live instance of a quiz being played. Only the host writes it.
type Session struct {
	ID                   string        `json:"id"`
	Pin                  string        `json:"pin"`
	QuizID               string        `json:"quizId"`
	HostID               string        `json:"hostId"`
	Status               SessionStatus `json:"status"`
	CurrentQuestionIndex int           `json:"currentQuestionIndex"`
	CreatedAt            time.Time     `json:"createdAt"`
	StartedAt            *time.Time    `json:"startedAt,omitempty"`
	EndedAt              *time.Time    `json:"endedAt,omitempty"`
}

// Player is a joined participant. Its row outlives its realtime connection.
type Player struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Score     int       `json:"score"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Question is static quiz content; immutable once a game runs against it.
type Question struct {
	ID           string   `json:"id"`
	QuizID       string   `json:"quizId"`
	Text         string   `json:"text"`
	Answers      []string `json:"answers"`
	CorrectIndex int      `json:"correctIndex"`
	TimeLimit    int      `json:"timeLimit"` // seconds
	OrderIndex   int      `json:"orderIndex"`
}

// Validate checks the authoring constraints the game loop relies on.
func (q Question) Validate() error {
	if n := len(q.Answers); n < 2 || n > 4 {
		return fmt.Errorf("question %s: %d answers: %w", q.ID, n, ErrInvalidQuiz)
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Answers) {
		return fmt.Errorf("question %s: correct index %d out of range: %w", q.ID, q.CorrectIndex, ErrInvalidQuiz)
	}
	if q.TimeLimit <= 0 {
		return fmt.Errorf("question %s: time limit %d: %w", q.ID, q.TimeLimit, ErrInvalidQuiz)
	}
	return nil
}

// QuizSettings are per-quiz knobs consumed by the live game.
type QuizSettings struct {
	MaxPlayers int `json:"maxPlayers"` // 0 means unlimited
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Questions []Question   `json:"questions"`
	Settings  QuizSettings `json:"settings"`
}

// Validate requires at least one playable question.
func (q Quiz) Validate() error {
	if len(q.Questions) == 0 {
		return fmt.Errorf("quiz %s has no questions: %w", q.ID, ErrInvalidQuiz)
	}
	for _, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PublicQuestions is the list sent to players. Only the first revealed
// questions, the closed ones, carry their correct answer.
func (q Quiz) PublicQuestions(revealed int) []PublicQuestion {
	out := make([]PublicQuestion, len(q.Questions))
	for i, question := range q.Questions {
		out[i] = PublicQuestion{
			Index:     i,
			ID:        question.ID,
			Text:      question.Text,
			Answers:   append([]string(nil), question.Answers...),
			TimeLimit: question.TimeLimit,
		}
		if i < revealed {
			out[i].CorrectIndex = IntPtr(question.CorrectIndex)
		}
	}
	return out
}

// PublicQuestion is what a player may see of a question.
type PublicQuestion struct {
	Index        int      `json:"index"`
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Answers      []string `json:"answers"`
	TimeLimit    int      `json:"timeLimit"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`
}

// Answer is one submission per (session, player, question).
type Answer struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"sessionId"`
	PlayerID       string     `json:"playerId"`
	QuestionID     string     `json:"questionId"`
	QuestionIndex  int        `json:"questionIndex"`
	AnswerIndex    int        `json:"answerIndex"`
	Correct        bool       `json:"correct"`
	ElapsedSeconds int        `json:"elapsedSeconds"`
	Points         int        `json:"points"`
	SubmittedAt    time.Time  `json:"submittedAt"`
	ScoredAt       *time.Time `json:"scoredAt,omitempty"`
}

// LeaderboardEntry is a snapshot-friendly view of a player.
type LeaderboardEntry struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Score     int    `json:"score"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// AnswerReceipt acknowledges a stored submission. Correctness is revealed when
// the question closes, in phase-changed(results) and score-updated.
type AnswerReceipt struct {
	QuestionIndex  int `json:"questionIndex"`
	AnswerIndex    int `json:"answerIndex"`
	ElapsedSeconds int `json:"elapsedSeconds"`
}
