package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
	"live-quiz-service/internal/scoring"
)

// Host is the authoritative controller of one session's phase machine:
// lobby -> question -> results -> question ... -> finished.
// Every transition, tick and answer is serialized on mu, so handlers run in
// arrival order the way a single event loop would run them.
type Host struct {
	quiz     domain.Quiz
	store    SessionStore
	bus      Bus
	log      logrus.FieldLogger
	opts     Options
	present  func() int
	onFinish func(domain.Session)

	// ctx backs clock-driven transitions; canceled on finish or Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	session       domain.Session
	phase         domain.Phase
	remaining     int
	questionStart time.Time
	clock         *Clock
	// seq numbers every event this host publishes; snapshots carry the last one.
	seq uint64
}

func newHost(session domain.Session, quiz domain.Quiz, store SessionStore, bus Bus, log logrus.FieldLogger, opts Options, present func() int, onFinish func(domain.Session)) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		quiz:     quiz,
		store:    store,
		bus:      bus,
		log:      log.WithField("session", session.ID),
		opts:     opts,
		present:  present,
		onFinish: onFinish,
		ctx:      ctx,
		cancel:   cancel,
		session:  session,
		phase:    domain.PhaseForStatus(session.Status),
	}
}

// Start moves lobby -> question 0.
func (h *Host) Start(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.phase {
	case domain.PhaseLobby:
	case domain.PhaseFinished:
		return domain.ErrSessionFinished
	default:
		return fmt.Errorf("start from %s: %w", h.phase, domain.ErrInvalidTransition)
	}
	if n := h.present(); n < h.opts.MinPlayers {
		return fmt.Errorf("%d of %d players connected: %w", n, h.opts.MinPlayers, domain.ErrNoPlayers)
	}

	now := h.opts.Now()
	updated := h.session
	updated.Status = domain.StatusPlaying
	updated.CurrentQuestionIndex = 0
	updated.StartedAt = &now
	if err := h.store.UpdateSession(ctx, updated); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	h.session = updated
	h.log.WithField("players", h.present()).Info("game started")
	h.enterQuestionLocked(ctx, 0)
	return nil
}

// Advance ends the current question early. Calling it again once results are
// showing is a no-op.
func (h *Host) Advance(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.phase {
	case domain.PhaseQuestion:
		h.toResultsLocked(ctx)
		return nil
	case domain.PhaseResults:
		return nil
	case domain.PhaseFinished:
		return domain.ErrSessionFinished
	default:
		return fmt.Errorf("advance from %s: %w", h.phase, domain.ErrInvalidTransition)
	}
}

// Next moves results -> the following question, or -> finished after the last one.
func (h *Host) Next(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.phase {
	case domain.PhaseResults:
	case domain.PhaseFinished:
		return domain.ErrSessionFinished
	default:
		return fmt.Errorf("next from %s: %w", h.phase, domain.ErrInvalidTransition)
	}

	next := h.session.CurrentQuestionIndex + 1
	if next < len(h.quiz.Questions) {
		h.enterQuestionLocked(ctx, next)
		return nil
	}
	h.finishLocked(ctx)
	return nil
}

// End finishes the game from a question (after scoring it) or from results.
func (h *Host) End(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.phase {
	case domain.PhaseQuestion:
		h.toResultsLocked(ctx)
	case domain.PhaseResults:
	case domain.PhaseFinished:
		return domain.ErrSessionFinished
	default:
		return fmt.Errorf("end from %s: %w", h.phase, domain.ErrInvalidTransition)
	}
	h.finishLocked(ctx)
	return nil
}

// RecordAnswer stores a player's answer for the running question. Points are
// not awarded here; the results transition scores every answer at once.
func (h *Host) RecordAnswer(ctx context.Context, playerID string, questionIndex, answerIndex int) (domain.AnswerReceipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.phase != domain.PhaseQuestion || questionIndex != h.session.CurrentQuestionIndex {
		return domain.AnswerReceipt{}, domain.ErrNotAcceptingAnswers
	}
	question := h.quiz.Questions[questionIndex]
	if answerIndex < 0 || answerIndex >= len(question.Answers) {
		return domain.AnswerReceipt{}, domain.ErrInvalidAnswer
	}

	now := h.opts.Now()
	elapsed := now.Sub(h.questionStart)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > time.Duration(question.TimeLimit)*h.opts.TickInterval {
		return domain.AnswerReceipt{}, domain.ErrNotAcceptingAnswers
	}

	answer := domain.Answer{
		ID:             uuid.NewString(),
		SessionID:      h.session.ID,
		PlayerID:       playerID,
		QuestionID:     question.ID,
		QuestionIndex:  questionIndex,
		AnswerIndex:    answerIndex,
		Correct:        answerIndex == question.CorrectIndex,
		ElapsedSeconds: int(elapsed / h.opts.TickInterval),
		SubmittedAt:    now,
	}
	if err := h.store.InsertAnswer(ctx, &answer); err != nil {
		return domain.AnswerReceipt{}, err
	}
	h.publishLocked(ctx, domain.EventAnswerRecorded, domain.AnswerRecordedPayload{
		PlayerID:      playerID,
		QuestionIndex: questionIndex,
	})
	return domain.AnswerReceipt{
		QuestionIndex:  questionIndex,
		AnswerIndex:    answerIndex,
		ElapsedSeconds: answer.ElapsedSeconds,
	}, nil
}

// State returns the host's current phase, question and remaining seconds.
func (h *Host) State() domain.GameState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return domain.GameState{
		Phase:                h.phase,
		CurrentQuestionIndex: h.session.CurrentQuestionIndex,
		TimeRemaining:        h.remaining,
	}
}

// Session returns the host's cached copy of its session row.
func (h *Host) Session() domain.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// view reads the session row, game state and last event sequence under one lock.
func (h *Host) view() (domain.Session, domain.GameState, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session, domain.GameState{
		Phase:                h.phase,
		CurrentQuestionIndex: h.session.CurrentQuestionIndex,
		TimeRemaining:        h.remaining,
	}, h.seq
}

// announce publishes an event on behalf of the service, in sequence with the
// host's own events.
func (h *Host) announce(ctx context.Context, t domain.EventType, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(ctx, t, payload)
}

// inLobby runs fn while the phase is guaranteed to stay lobby.
func (h *Host) inLobby(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != domain.PhaseLobby {
		return domain.ErrSessionAlreadyStarted
	}
	return fn()
}

// Close tears the controller down without touching the session row.
func (h *Host) Close() {
	h.mu.Lock()
	h.stopClockLocked()
	h.mu.Unlock()
	h.cancel()
}

func (h *Host) enterQuestionLocked(ctx context.Context, index int) {
	question := h.quiz.Questions[index]
	h.stopClockLocked()
	h.phase = domain.PhaseQuestion
	h.remaining = question.TimeLimit
	h.questionStart = h.opts.Now()
	if index != h.session.CurrentQuestionIndex {
		h.session.CurrentQuestionIndex = index
		if err := h.store.UpdateSession(ctx, h.session); err != nil {
			h.log.WithError(err).WithField("question", index).Warn("persist question index failed")
		}
	}
	metrics.PhaseTransition(string(domain.PhaseQuestion))
	h.log.WithField("question", index).Debug("question opened")

	h.publishLocked(ctx, domain.EventPhaseChanged, domain.PhaseChangedPayload{
		Phase:                domain.PhaseQuestion,
		CurrentQuestionIndex: domain.IntPtr(index),
	})
	h.clock = StartClock(question.TimeLimit, h.opts.TickInterval,
		func(remaining int) { h.tick(index, remaining) },
		func() { h.timeout(index) },
	)
}

func (h *Host) tick(index, remaining int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != domain.PhaseQuestion || h.session.CurrentQuestionIndex != index {
		return
	}
	h.remaining = remaining
	h.publishLocked(h.ctx, domain.EventTimerTick, domain.TimerTickPayload{
		TimeRemaining:        remaining,
		CurrentQuestionIndex: domain.IntPtr(index),
	})
}

// timeout may fire after a manual advance; the phase and index guard makes it a no-op then.
func (h *Host) timeout(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.phase != domain.PhaseQuestion || h.session.CurrentQuestionIndex != index {
		return
	}
	h.log.WithField("question", index).Debug("question timed out")
	h.toResultsLocked(h.ctx)
}

func (h *Host) toResultsLocked(ctx context.Context) {
	h.stopClockLocked()
	h.phase = domain.PhaseResults
	h.remaining = 0
	index := h.session.CurrentQuestionIndex
	metrics.PhaseTransition(string(domain.PhaseResults))

	h.publishLocked(ctx, domain.EventPhaseChanged, domain.PhaseChangedPayload{
		Phase:                domain.PhaseResults,
		CurrentQuestionIndex: domain.IntPtr(index),
		CorrectIndex:         domain.IntPtr(h.quiz.Questions[index].CorrectIndex),
	})
	h.scoreQuestionLocked(ctx, index)
	h.publishLeaderboardLocked(ctx)
}

// scoreQuestionLocked is the single place points are awarded. A failed write
// degrades that player's score and the game goes on.
func (h *Host) scoreQuestionLocked(ctx context.Context, index int) {
	question := h.quiz.Questions[index]
	answers, err := h.store.ListAnswers(ctx, h.session.ID, question.ID)
	if err != nil {
		h.log.WithError(err).WithField("question", index).Error("load answers for scoring failed")
		return
	}
	for _, answer := range answers {
		if answer.ScoredAt != nil {
			continue
		}
		points := scoring.Award(question.TimeLimit, answer.ElapsedSeconds, answer.Correct)
		player, err := h.store.AwardPoints(ctx, answer.ID, points)
		if err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"player":   answer.PlayerID,
				"question": index,
			}).Warn("award points failed")
			continue
		}
		metrics.PointsAwarded(points)
		h.publishLocked(ctx, domain.EventScoreUpdated, domain.ScoreUpdatedPayload{
			PlayerID:      answer.PlayerID,
			QuestionIndex: index,
			Correct:       answer.Correct,
			Awarded:       points,
			Score:         player.Score,
		})
	}
}

func (h *Host) finishLocked(ctx context.Context) {
	h.stopClockLocked()
	now := h.opts.Now()
	updated := h.session
	updated.Status = domain.StatusFinished
	updated.EndedAt = &now
	if err := h.store.UpdateSession(ctx, updated); err != nil {
		h.log.WithError(err).Error("persist finished session failed")
	}
	h.session = updated
	h.phase = domain.PhaseFinished
	h.remaining = 0
	metrics.PhaseTransition(string(domain.PhaseFinished))
	h.log.Info("game finished")

	h.publishLocked(ctx, domain.EventPhaseChanged, domain.PhaseChangedPayload{Phase: domain.PhaseFinished})
	h.publishLeaderboardLocked(ctx)

	if h.onFinish != nil {
		h.onFinish(updated)
	}
	h.cancel()
}

func (h *Host) publishLeaderboardLocked(ctx context.Context) {
	players, err := h.store.ListPlayers(ctx, h.session.ID)
	if err != nil {
		h.log.WithError(err).Warn("load players for leaderboard failed")
		return
	}
	h.publishLocked(ctx, domain.EventLeaderboardSnapshot, domain.LeaderboardPayload{
		Players: scoring.Leaderboard(players),
	})
}

func (h *Host) publishLocked(ctx context.Context, t domain.EventType, payload any) {
	h.seq++
	publish(ctx, h.bus, h.log, h.session.ID, h.seq, t, payload)
}

func (h *Host) stopClockLocked() {
	if h.clock != nil {
		h.clock.Stop()
		h.clock = nil
	}
}
