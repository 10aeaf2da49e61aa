package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
	"live-quiz-service/internal/scoring"
)

const (
	maxNicknameLength  = 100
	defaultPinAttempts = 10
)

// Options tune the game loop. Zero values fall back to production defaults.
type Options struct {
	// TickInterval is the length of one game second.
	TickInterval time.Duration
	// MinPlayers present before the host may start.
	MinPlayers  int
	PinAttempts int
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.MinPlayers <= 0 {
		o.MinPlayers = 1
	}
	if o.PinAttempts <= 0 {
		o.PinAttempts = defaultPinAttempts
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// GameService contains the live game use cases: hosting, joining, answering and resync.
type GameService struct {
	store    SessionStore
	quizzes  QuizRepository
	pins     PinRegistry
	bus      Bus
	log      logrus.FieldLogger
	opts     Options
	presence *presence

	mu    sync.RWMutex
	hosts map[string]*Host
}

func NewGameService(store SessionStore, quizzes QuizRepository, pins PinRegistry, bus Bus, log logrus.FieldLogger, opts Options) *GameService {
	return &GameService{
		store:    store,
		quizzes:  quizzes,
		pins:     pins,
		bus:      bus,
		log:      log,
		opts:     opts.withDefaults(),
		presence: newPresence(),
		hosts:    make(map[string]*Host),
	}
}

// CreateSession opens a lobby for quizID and makes this process its host.
func (s *GameService) CreateSession(ctx context.Context, quizID, hostID string) (domain.Session, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Session{}, err
	}
	if err := quiz.Validate(); err != nil {
		return domain.Session{}, err
	}

	id := uuid.NewString()
	pin, err := s.reservePin(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:        id,
		Pin:       pin,
		QuizID:    quiz.ID,
		HostID:    hostID,
		Status:    domain.StatusLobby,
		CreatedAt: s.opts.Now(),
	}
	if err := s.store.CreateSession(ctx, &session); err != nil {
		if releaseErr := s.pins.Release(context.WithoutCancel(ctx), pin); releaseErr != nil {
			s.log.WithError(releaseErr).WithField("pin", pin).Warn("release pin failed")
		}
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}

	host := newHost(session, quiz, s.store, s.bus, s.log, s.opts,
		func() int { return s.presence.count(id) },
		s.finished,
	)
	s.mu.Lock()
	s.hosts[id] = host
	s.mu.Unlock()
	metrics.SessionOpened()

	s.log.WithFields(logrus.Fields{"session": id, "quiz": quiz.ID, "pin": pin}).Info("session created")
	return session, nil
}

// Join adds a player to the lobby behind pin.
func (s *GameService) Join(ctx context.Context, pin, nickname, avatarURL string) (domain.Player, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || utf8.RuneCountInString(nickname) > maxNicknameLength {
		return domain.Player{}, domain.ErrInvalidNickname
	}

	session, err := s.store.FindLiveSessionByPin(ctx, strings.TrimSpace(pin))
	if err != nil {
		return domain.Player{}, err
	}
	if session.Status != domain.StatusLobby {
		return domain.Player{}, domain.ErrSessionAlreadyStarted
	}
	host, ok := s.host(session.ID)
	if !ok {
		return domain.Player{}, domain.ErrSessionNotFound
	}

	player := domain.Player{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Nickname:  nickname,
		AvatarURL: strings.TrimSpace(avatarURL),
		JoinedAt:  s.opts.Now(),
	}
	err = host.inLobby(func() error {
		if limit := host.quiz.Settings.MaxPlayers; limit > 0 {
			players, err := s.store.ListPlayers(ctx, session.ID)
			if err != nil {
				return err
			}
			if len(players) >= limit {
				return domain.ErrSessionFull
			}
		}
		if err := s.store.AddPlayer(ctx, &player); err != nil {
			return err
		}
		s.presence.join(session.ID, player.ID)
		return nil
	})
	if err != nil {
		return domain.Player{}, err
	}

	s.publishJoined(ctx, player)
	s.log.WithFields(logrus.Fields{"session": session.ID, "player": player.ID}).Info("player joined")
	return player, nil
}

// Connect marks a player's realtime connection open. A player that had dropped
// becomes present again.
func (s *GameService) Connect(ctx context.Context, sessionID, playerID string) error {
	player, err := s.store.GetPlayer(ctx, sessionID, playerID)
	if err != nil {
		return err
	}
	if s.presence.connect(sessionID, playerID) {
		s.publishJoined(ctx, player)
	}
	return nil
}

// Disconnect marks one realtime connection closed. The player row stays.
func (s *GameService) Disconnect(ctx context.Context, sessionID, playerID string) {
	if s.presence.disconnect(sessionID, playerID) {
		s.publishLeft(ctx, sessionID, playerID)
	}
}

// Leave marks the player absent regardless of open connections.
func (s *GameService) Leave(ctx context.Context, sessionID, playerID string) {
	if s.presence.leave(sessionID, playerID) {
		s.publishLeft(ctx, sessionID, playerID)
	}
}

// Present reports whether the player is currently counted as connected.
func (s *GameService) Present(sessionID, playerID string) bool {
	return s.presence.isPresent(sessionID, playerID)
}

// SubmitAnswer records a player's answer for the running question.
func (s *GameService) SubmitAnswer(ctx context.Context, sessionID, playerID string, questionIndex, answerIndex int) (domain.AnswerReceipt, error) {
	host, err := s.hostFor(ctx, sessionID)
	if err != nil {
		metrics.AnswerOutcome(answerOutcome(err))
		return domain.AnswerReceipt{}, err
	}
	if _, err := s.store.GetPlayer(ctx, sessionID, playerID); err != nil {
		metrics.AnswerOutcome(answerOutcome(err))
		return domain.AnswerReceipt{}, err
	}
	receipt, err := host.RecordAnswer(ctx, playerID, questionIndex, answerIndex)
	metrics.AnswerOutcome(answerOutcome(err))
	if err != nil {
		return domain.AnswerReceipt{}, err
	}
	return receipt, nil
}

// Subscribe attaches to the session's realtime events. Callers must Close the subscription.
func (s *GameService) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.bus.Subscribe(ctx, sessionID)
}

// Snapshot is the authoritative state used to resync a participant. playerID
// may be empty for host or spectator views.
func (s *GameService) Snapshot(ctx context.Context, sessionID, playerID string) (domain.Snapshot, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	var (
		state domain.GameState
		quiz  domain.Quiz
		seq   uint64
	)
	if host, ok := s.host(sessionID); ok {
		session, state, seq = host.view()
		quiz = host.quiz
	} else {
		state = domain.GameState{
			Phase:                domain.PhaseForStatus(session.Status),
			CurrentQuestionIndex: session.CurrentQuestionIndex,
		}
		if quiz, err = s.quizzes.GetQuiz(ctx, session.QuizID); err != nil {
			return domain.Snapshot{}, err
		}
	}

	// read after the host state, so anything newer here is also newer than seq
	// and gets replayed on top
	players, err := s.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	snapshot := domain.Snapshot{
		SessionID: session.ID,
		Pin:       session.Pin,
		Status:    session.Status,
		GameState: state,
		Players:   scoring.Leaderboard(players),
		Questions: quiz.PublicQuestions(domain.RevealedThrough(state.Phase, state.CurrentQuestionIndex, len(quiz.Questions))),
		Seq:       seq,
	}

	inGame := state.Phase == domain.PhaseQuestion || state.Phase == domain.PhaseResults
	if playerID != "" && inGame && state.CurrentQuestionIndex < len(quiz.Questions) {
		questionID := quiz.Questions[state.CurrentQuestionIndex].ID
		answer, err := s.store.FindAnswer(ctx, sessionID, playerID, questionID)
		switch {
		case err == nil:
			snapshot.Submitted = true
			if state.Phase == domain.PhaseResults && answer.ScoredAt != nil {
				snapshot.Result = &domain.AnswerResult{Correct: answer.Correct, Awarded: answer.Points}
			}
		case errors.Is(err, domain.ErrAnswerNotFound):
		default:
			return domain.Snapshot{}, err
		}
	}
	return snapshot, nil
}

// Leaderboard returns the session's players ordered by score.
func (s *GameService) Leaderboard(ctx context.Context, sessionID string) ([]domain.LeaderboardEntry, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	players, err := s.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return scoring.Leaderboard(players), nil
}

func (s *GameService) Start(ctx context.Context, sessionID string) error {
	host, err := s.hostFor(ctx, sessionID)
	if err != nil {
		return err
	}
	return host.Start(ctx)
}

func (s *GameService) Advance(ctx context.Context, sessionID string) error {
	host, err := s.hostFor(ctx, sessionID)
	if err != nil {
		return err
	}
	return host.Advance(ctx)
}

func (s *GameService) Next(ctx context.Context, sessionID string) error {
	host, err := s.hostFor(ctx, sessionID)
	if err != nil {
		return err
	}
	return host.Next(ctx)
}

func (s *GameService) End(ctx context.Context, sessionID string) error {
	host, err := s.hostFor(ctx, sessionID)
	if err != nil {
		return err
	}
	return host.End(ctx)
}

// Close stops every live host. Session rows are left as they are.
func (s *GameService) Close() {
	s.mu.Lock()
	hosts := make([]*Host, 0, len(s.hosts))
	for id, host := range s.hosts {
		hosts = append(hosts, host)
		delete(s.hosts, id)
	}
	s.mu.Unlock()

	for _, host := range hosts {
		host.Close()
		metrics.SessionClosed()
	}
}

func (s *GameService) host(sessionID string) (*Host, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	host, ok := s.hosts[sessionID]
	return host, ok
}

// hostFor resolves the live controller, or explains why there is none.
func (s *GameService) hostFor(ctx context.Context, sessionID string) (*Host, error) {
	if host, ok := s.host(sessionID); ok {
		return host, nil
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusFinished {
		return nil, domain.ErrSessionFinished
	}
	return nil, domain.ErrSessionNotFound
}

// finished runs under the host's lock; it must not call back into the host.
func (s *GameService) finished(session domain.Session) {
	s.mu.Lock()
	_, ok := s.hosts[session.ID]
	delete(s.hosts, session.ID)
	s.mu.Unlock()
	if ok {
		metrics.SessionClosed()
	}
	s.presence.drop(session.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.pins.Release(ctx, session.Pin); err != nil {
		s.log.WithError(err).WithField("pin", session.Pin).Warn("release pin failed")
	}
}

func (s *GameService) reservePin(ctx context.Context, sessionID string) (string, error) {
	for attempt := 0; attempt < s.opts.PinAttempts; attempt++ {
		pin := strconv.Itoa(100000 + rand.Intn(900000))
		ok, err := s.pins.Reserve(ctx, pin, sessionID)
		if err != nil {
			return "", fmt.Errorf("reserve pin: %w", err)
		}
		if ok {
			return pin, nil
		}
	}
	return "", domain.ErrPinUnavailable
}

func (s *GameService) publishJoined(ctx context.Context, player domain.Player) {
	s.announce(ctx, player.SessionID, domain.EventPlayerJoined, domain.PlayerJoinedPayload{
		ID:        player.ID,
		Nickname:  player.Nickname,
		Score:     player.Score,
		AvatarURL: player.AvatarURL,
	})
}

func (s *GameService) publishLeft(ctx context.Context, sessionID, playerID string) {
	s.announce(ctx, sessionID, domain.EventPlayerLeft, domain.PlayerLeftPayload{ID: playerID})
}

// announce routes through the live host so roster events share its sequence.
func (s *GameService) announce(ctx context.Context, sessionID string, t domain.EventType, payload any) {
	if host, ok := s.host(sessionID); ok {
		host.announce(ctx, t, payload)
		return
	}
	publish(ctx, s.bus, s.log, sessionID, 0, t, payload)
}

func answerOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return "duplicate"
	case errors.Is(err, domain.ErrNotAcceptingAnswers), errors.Is(err, domain.ErrSessionFinished):
		return "late"
	case errors.Is(err, domain.ErrInvalidAnswer):
		return "invalid"
	default:
		return "failed"
	}
}
