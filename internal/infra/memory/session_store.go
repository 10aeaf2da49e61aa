package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore.
type SessionStore struct {
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]domain.Session
	players  map[string][]*domain.Player // session -> players in join order
	answers  map[string]*domain.Answer
	answered map[answerKey]string // unique (session, player, question) -> answer id
}

type answerKey struct {
	sessionID  string
	playerID   string
	questionID string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		now:      time.Now,
		sessions: make(map[string]domain.Session),
		players:  make(map[string][]*domain.Player),
		answers:  make(map[string]*domain.Answer),
		answered: make(map[answerKey]string),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

// FindLiveSessionByPin ignores finished sessions, whose pins may be reused.
func (s *SessionStore) FindLiveSessionByPin(_ context.Context, pin string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.Pin == pin && session.Status != domain.StatusFinished {
			return session, nil
		}
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

func (s *SessionStore) UpdateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if current.Status == domain.StatusFinished {
		return domain.ErrSessionFinished
	}
	if !current.Status.CanTransitionTo(session.Status) {
		return fmt.Errorf("status %s -> %s: %w", current.Status, session.Status, domain.ErrInvalidTransition)
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) AddPlayer(_ context.Context, player *domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[player.SessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	stored := *player
	s.players[player.SessionID] = append(s.players[player.SessionID], &stored)
	return nil
}

func (s *SessionStore) GetPlayer(_ context.Context, sessionID, playerID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p := s.playerLocked(sessionID, playerID); p != nil {
		return *p, nil
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

func (s *SessionStore) ListPlayers(_ context.Context, sessionID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players := s.players[sessionID]
	out := make([]domain.Player, 0, len(players))
	for _, p := range players {
		out = append(out, *p)
	}
	return out, nil
}

func (s *SessionStore) InsertAnswer(_ context.Context, answer *domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playerLocked(answer.SessionID, answer.PlayerID) == nil {
		return domain.ErrPlayerNotFound
	}
	key := answerKey{answer.SessionID, answer.PlayerID, answer.QuestionID}
	if _, ok := s.answered[key]; ok {
		return domain.ErrDuplicateSubmission
	}
	stored := *answer
	s.answers[answer.ID] = &stored
	s.answered[key] = answer.ID
	return nil
}

func (s *SessionStore) FindAnswer(_ context.Context, sessionID, playerID, questionID string) (domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.answered[answerKey{sessionID, playerID, questionID}]
	if !ok {
		return domain.Answer{}, domain.ErrAnswerNotFound
	}
	return *s.answers[id], nil
}

// ListAnswers returns a question's answers in submission order.
func (s *SessionStore) ListAnswers(_ context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for _, a := range s.answers {
		if a.SessionID == sessionID && a.QuestionID == questionID {
			out = append(out, *a)
		}
	}
	sortAnswers(out)
	return out, nil
}

func (s *SessionStore) AwardPoints(_ context.Context, answerID string, points int) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	answer, ok := s.answers[answerID]
	if !ok {
		return domain.Player{}, domain.ErrAnswerNotFound
	}
	player := s.playerLocked(answer.SessionID, answer.PlayerID)
	if player == nil {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	if answer.ScoredAt != nil {
		return *player, nil
	}
	now := s.now()
	answer.Points = points
	answer.ScoredAt = &now
	player.Score += points
	return *player, nil
}

func (s *SessionStore) playerLocked(sessionID, playerID string) *domain.Player {
	for _, p := range s.players[sessionID] {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func sortAnswers(answers []domain.Answer) {
	sort.SliceStable(answers, func(i, j int) bool {
		if !answers[i].SubmittedAt.Equal(answers[j].SubmittedAt) {
			return answers[i].SubmittedAt.Before(answers[j].SubmittedAt)
		}
		return answers[i].ID < answers[j].ID
	})
}
