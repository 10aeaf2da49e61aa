package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"live-quiz-service/internal/domain"
)

// Stage is what a player's screen shows.
type Stage string

const (
	StageWaiting        Stage = "waiting"
	StageAnswering      Stage = "answering"
	StageSubmitted      Stage = "submitted"
	StageViewingResults Stage = "viewing-results"
	StageFinished       Stage = "finished"
)

const noQuestion = -1

// Submitter sends one answer for the current player.
type Submitter interface {
	SubmitAnswer(ctx context.Context, questionIndex, answerIndex int) (domain.AnswerReceipt, error)
}

// State is a copy of a View at one instant. Question.CorrectIndex is set once
// the question closed; Result is this player's outcome for it, if they answered.
type State struct {
	Stage         Stage
	Phase         domain.Phase
	QuestionIndex int
	TimeRemaining int
	Score         int
	Question      *domain.PublicQuestion
	Result        *domain.AnswerResult
	Players       []domain.LeaderboardEntry
}

// View is one player's projection of the game. It is fed by Resync and Apply
// and gates Submit; it never drives the game.
type View struct {
	playerID  string
	submitter Submitter
	log       logrus.FieldLogger
	now       func() time.Time
	tick      time.Duration

	mu            sync.Mutex
	phase         domain.Phase
	questionIndex int
	remaining     int
	tickedAt      time.Time
	questionStart time.Time
	submittedFor  int
	score         int
	result        *domain.AnswerResult
	resultFor     int
	players       []domain.LeaderboardEntry
	questions     []domain.PublicQuestion
	// seq is the last host event reflected in the view.
	seq     uint64
	changes chan struct{}
}

func NewView(playerID string, submitter Submitter, log logrus.FieldLogger) *View {
	return &View{
		playerID:      playerID,
		submitter:     submitter,
		log:           log.WithField("player", playerID),
		now:           time.Now,
		tick:          time.Second,
		phase:         domain.PhaseLobby,
		questionIndex: noQuestion,
		submittedFor:  noQuestion,
		resultFor:     noQuestion,
		changes:       make(chan struct{}, 1),
	}
}

// Changes signals after every state change. Signals coalesce.
func (v *View) Changes() <-chan struct{} {
	return v.changes
}

// Resync replaces local state with an authoritative snapshot. A snapshot older
// than events already applied is ignored.
func (v *View) Resync(snapshot domain.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if snapshot.Seq != 0 && snapshot.Seq < v.seq {
		v.log.WithFields(logrus.Fields{"seq": snapshot.Seq, "applied": v.seq}).Debug("ignoring stale snapshot")
		return
	}
	v.seq = snapshot.Seq

	now := v.now()
	v.questions = append([]domain.PublicQuestion(nil), snapshot.Questions...)
	v.players = snapshot.Players
	for _, p := range snapshot.Players {
		if p.ID == v.playerID {
			v.score = p.Score
		}
	}

	sameQuestion := v.phase == domain.PhaseQuestion && v.questionIndex == snapshot.CurrentQuestionIndex
	v.phase = snapshot.Phase
	v.questionIndex = snapshot.CurrentQuestionIndex
	v.remaining = snapshot.TimeRemaining
	v.tickedAt = now

	if v.phase == domain.PhaseQuestion {
		if !sameQuestion {
			// joined mid-question: start is what the remaining time implies
			elapsed := v.timeLimitLocked(v.questionIndex) - snapshot.TimeRemaining
			if elapsed < 0 {
				elapsed = 0
			}
			v.questionStart = now.Add(-time.Duration(elapsed) * v.tick)
		}
		if snapshot.Submitted {
			v.submittedFor = v.questionIndex
		}
	}
	v.result, v.resultFor = snapshot.Result, noQuestion
	if snapshot.Result != nil {
		v.resultFor = snapshot.CurrentQuestionIndex
	}
	v.notifyLocked()
}

// Apply folds one event into the view. phase-changed is authoritative; ticks
// for anything but the current question are dropped, and so are host events
// the last snapshot or an earlier event already covered.
func (v *View) Apply(event domain.Event) {
	if event.Seq != 0 && event.Type != domain.EventSync && !v.advance(event.Seq) {
		return
	}
	switch event.Type {
	case domain.EventSync:
		var snapshot domain.Snapshot
		if v.decode(event, &snapshot) {
			v.Resync(snapshot)
		}
		return
	case domain.EventPhaseChanged:
		var payload domain.PhaseChangedPayload
		if v.decode(event, &payload) {
			v.applyPhase(payload)
		}
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	switch event.Type {
	case domain.EventTimerTick:
		var payload domain.TimerTickPayload
		if !v.decode(event, &payload) || v.phase != domain.PhaseQuestion {
			return
		}
		if payload.CurrentQuestionIndex != nil && *payload.CurrentQuestionIndex != v.questionIndex {
			return
		}
		v.remaining = payload.TimeRemaining
		v.tickedAt = v.now()
	case domain.EventPlayerJoined:
		var payload domain.PlayerJoinedPayload
		if !v.decode(event, &payload) {
			return
		}
		for _, p := range v.players {
			if p.ID == payload.ID {
				return
			}
		}
		v.players = append(v.players, domain.LeaderboardEntry{ID: payload.ID, Nickname: payload.Nickname, Score: payload.Score, AvatarURL: payload.AvatarURL})
	case domain.EventPlayerLeft:
		var payload domain.PlayerLeftPayload
		if !v.decode(event, &payload) {
			return
		}
		kept := v.players[:0]
		for _, p := range v.players {
			if p.ID != payload.ID {
				kept = append(kept, p)
			}
		}
		v.players = kept
	case domain.EventLeaderboardSnapshot:
		var payload domain.LeaderboardPayload
		if !v.decode(event, &payload) {
			return
		}
		v.players = payload.Players
		for _, p := range payload.Players {
			if p.ID == v.playerID {
				v.score = p.Score
			}
		}
	case domain.EventScoreUpdated:
		var payload domain.ScoreUpdatedPayload
		if !v.decode(event, &payload) {
			return
		}
		for i := range v.players {
			if v.players[i].ID == payload.PlayerID {
				v.players[i].Score = payload.Score
			}
		}
		if payload.PlayerID == v.playerID {
			v.score = payload.Score
			v.result = &domain.AnswerResult{Correct: payload.Correct, Awarded: payload.Awarded}
			v.resultFor = payload.QuestionIndex
		}
	case domain.EventAnswerAccepted:
		var receipt domain.AnswerReceipt
		if v.decode(event, &receipt) && receipt.QuestionIndex == v.questionIndex {
			v.submittedFor = receipt.QuestionIndex
		}
	case domain.EventAnswerRejected:
		var payload domain.RejectionPayload
		if v.decode(event, &payload) && payload.Code == domain.CodeDuplicate {
			v.submittedFor = v.questionIndex
		}
	default:
		return
	}
	v.notifyLocked()
}

func (v *View) applyPhase(payload domain.PhaseChangedPayload) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	switch payload.Phase {
	case domain.PhaseQuestion:
		index := v.questionIndex
		if payload.CurrentQuestionIndex != nil {
			index = *payload.CurrentQuestionIndex
		}
		if v.phase == domain.PhaseQuestion && index == v.questionIndex {
			// repeated announcement of the running question
			return
		}
		v.questionIndex = index
		v.questionStart = now
		v.remaining = v.timeLimitLocked(index)
		v.tickedAt = now
	default:
		if payload.CurrentQuestionIndex != nil {
			v.questionIndex = *payload.CurrentQuestionIndex
		}
		if payload.CorrectIndex != nil && v.questionIndex >= 0 && v.questionIndex < len(v.questions) {
			v.questions[v.questionIndex].CorrectIndex = domain.IntPtr(*payload.CorrectIndex)
		}
		v.remaining = 0
	}
	v.phase = payload.Phase
	v.notifyLocked()
}

// Submit sends answerIndex for the current question. It reports false without
// contacting the server when the phase is not question or this question was
// already answered. A duplicate refused by the server is not an error.
func (v *View) Submit(ctx context.Context, answerIndex int) (bool, error) {
	v.mu.Lock()
	if v.phase != domain.PhaseQuestion || v.submittedFor == v.questionIndex {
		v.mu.Unlock()
		return false, nil
	}
	index := v.questionIndex
	v.submittedFor = index
	v.notifyLocked()
	v.mu.Unlock()

	_, err := v.submitter.SubmitAnswer(ctx, index, answerIndex)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrDuplicateSubmission) {
		return false, nil
	}

	v.log.WithError(err).WithField("question", index).Warn("answer not recorded")
	if domain.Code(err) == domain.CodeInternal {
		// transient; let the player try again
		v.mu.Lock()
		if v.submittedFor == index {
			v.submittedFor = noQuestion
			v.notifyLocked()
		}
		v.mu.Unlock()
	}
	return false, err
}

// TimeRemaining is the display countdown: the last tick minus whole ticks
// since it arrived. Scoring never uses it.
func (v *View) TimeRemaining() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.timeRemainingLocked()
}

// Elapsed is the time since the current question started, as this player saw it.
func (v *View) Elapsed() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phase != domain.PhaseQuestion {
		return 0
	}
	return v.now().Sub(v.questionStart)
}

func (v *View) Stage() Stage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stageLocked()
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	state := State{
		Stage:         v.stageLocked(),
		Phase:         v.phase,
		QuestionIndex: v.questionIndex,
		TimeRemaining: v.timeRemainingLocked(),
		Score:         v.score,
		Players:       append([]domain.LeaderboardEntry(nil), v.players...),
	}
	if v.questionIndex >= 0 && v.questionIndex < len(v.questions) {
		q := v.questions[v.questionIndex]
		state.Question = &q
	}
	if v.result != nil && v.resultFor == v.questionIndex {
		result := *v.result
		state.Result = &result
	}
	return state
}

func (v *View) stageLocked() Stage {
	switch v.phase {
	case domain.PhaseQuestion:
		if v.submittedFor == v.questionIndex {
			return StageSubmitted
		}
		return StageAnswering
	case domain.PhaseResults:
		return StageViewingResults
	case domain.PhaseFinished:
		return StageFinished
	default:
		return StageWaiting
	}
}

func (v *View) timeRemainingLocked() int {
	if v.phase != domain.PhaseQuestion {
		return 0
	}
	left := v.remaining - int(v.now().Sub(v.tickedAt)/v.tick)
	if left < 0 {
		return 0
	}
	return left
}

func (v *View) timeLimitLocked(index int) int {
	if index >= 0 && index < len(v.questions) {
		return v.questions[index].TimeLimit
	}
	return 0
}

// advance records seq as applied, reporting false when it is not newer.
func (v *View) advance(seq uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if seq <= v.seq {
		return false
	}
	v.seq = seq
	return true
}

func (v *View) notifyLocked() {
	select {
	case v.changes <- struct{}{}:
	default:
	}
}

func (v *View) decode(event domain.Event, out any) bool {
	if err := event.Decode(out); err != nil {
		v.log.WithError(err).Debug("dropping malformed event")
		return false
	}
	return true
}
