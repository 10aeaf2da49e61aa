package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"live-quiz-service/internal/domain"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:game_sessions,alias:gs"`

	ID                   string     `bun:"id,pk"`
	Pin                  string     `bun:"pin,notnull"`
	QuizID               string     `bun:"quiz_id,notnull"`
	HostID               string     `bun:"host_id,notnull"`
	Status               string     `bun:"status,notnull"`
	CurrentQuestionIndex int        `bun:"current_question_index,notnull"`
	CreatedAt            time.Time  `bun:"created_at,notnull"`
	StartedAt            *time.Time `bun:"started_at"`
	EndedAt              *time.Time `bun:"ended_at"`
}

type playerRow struct {
	bun.BaseModel `bun:"table:players,alias:p"`

	ID        string    `bun:"id,pk"`
	SessionID string    `bun:"session_id,notnull"`
	Nickname  string    `bun:"nickname,notnull"`
	AvatarURL string    `bun:"avatar_url,notnull"`
	Score     int       `bun:"score,notnull"`
	JoinedAt  time.Time `bun:"joined_at,notnull"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	ID             string     `bun:"id,pk"`
	SessionID      string     `bun:"session_id,notnull"`
	PlayerID       string     `bun:"player_id,notnull"`
	QuestionID     string     `bun:"question_id,notnull"`
	QuestionIndex  int        `bun:"question_index,notnull"`
	AnswerIndex    int        `bun:"answer_index,notnull"`
	Correct        bool       `bun:"is_correct,notnull"`
	ElapsedSeconds int        `bun:"elapsed_seconds,notnull"`
	Points         int        `bun:"points_earned,notnull"`
	SubmittedAt    time.Time  `bun:"submitted_at,notnull"`
	ScoredAt       *time.Time `bun:"scored_at"`
}

// SessionStore persists sessions, players and answers with bun.
type SessionStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func (s *SessionStore) CreateSession(ctx context.Context, session *domain.Session) error {
	row := toSessionRow(*session)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if pgCode(err) == uniqueViolation {
			return domain.ErrPinUnavailable
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", sessionID).Scan(ctx)
	if err != nil {
		return domain.Session{}, notFound(err, domain.ErrSessionNotFound, "select session")
	}
	return row.toDomain(), nil
}

func (s *SessionStore) FindLiveSessionByPin(ctx context.Context, pin string) (domain.Session, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).
		Where("pin = ?", pin).
		Where("status <> ?", string(domain.StatusFinished)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Session{}, notFound(err, domain.ErrSessionNotFound, "select session by pin")
	}
	return row.toDomain(), nil
}

// UpdateSession locks the row so status only ever moves forward.
func (s *SessionStore) UpdateSession(ctx context.Context, session domain.Session) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var current sessionRow
		err := tx.NewSelect().Model(&current).Where("id = ?", session.ID).For("UPDATE").Scan(ctx)
		if err != nil {
			return notFound(err, domain.ErrSessionNotFound, "lock session")
		}
		from := domain.SessionStatus(current.Status)
		if from == domain.StatusFinished {
			return domain.ErrSessionFinished
		}
		if !from.CanTransitionTo(session.Status) {
			return fmt.Errorf("status %s -> %s: %w", from, session.Status, domain.ErrInvalidTransition)
		}

		row := toSessionRow(session)
		_, err = tx.NewUpdate().Model(&row).
			Column("status", "current_question_index", "started_at", "ended_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return nil
	})
}

func (s *SessionStore) AddPlayer(ctx context.Context, player *domain.Player) error {
	row := playerRow{
		ID:        player.ID,
		SessionID: player.SessionID,
		Nickname:  player.Nickname,
		AvatarURL: player.AvatarURL,
		Score:     player.Score,
		JoinedAt:  player.JoinedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		if pgCode(err) == foreignKeyViolation {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (s *SessionStore) GetPlayer(ctx context.Context, sessionID, playerID string) (domain.Player, error) {
	var row playerRow
	err := s.db.NewSelect().Model(&row).
		Where("id = ?", playerID).
		Where("session_id = ?", sessionID).
		Scan(ctx)
	if err != nil {
		return domain.Player{}, notFound(err, domain.ErrPlayerNotFound, "select player")
	}
	return row.toDomain(), nil
}

func (s *SessionStore) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	var rows []playerRow
	err := s.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Order("joined_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	players := make([]domain.Player, 0, len(rows))
	for _, row := range rows {
		players = append(players, row.toDomain())
	}
	return players, nil
}

// InsertAnswer relies on the unique (session, player, question) index to reject
// a second submission, whichever instance it arrives at.
func (s *SessionStore) InsertAnswer(ctx context.Context, answer *domain.Answer) error {
	row := answerRow{
		ID:             answer.ID,
		SessionID:      answer.SessionID,
		PlayerID:       answer.PlayerID,
		QuestionID:     answer.QuestionID,
		QuestionIndex:  answer.QuestionIndex,
		AnswerIndex:    answer.AnswerIndex,
		Correct:        answer.Correct,
		ElapsedSeconds: answer.ElapsedSeconds,
		Points:         answer.Points,
		SubmittedAt:    answer.SubmittedAt,
		ScoredAt:       answer.ScoredAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		switch pgCode(err) {
		case uniqueViolation:
			return domain.ErrDuplicateSubmission
		case foreignKeyViolation:
			return domain.ErrPlayerNotFound
		}
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

func (s *SessionStore) FindAnswer(ctx context.Context, sessionID, playerID, questionID string) (domain.Answer, error) {
	var row answerRow
	err := s.db.NewSelect().Model(&row).
		Where("session_id = ?", sessionID).
		Where("player_id = ?", playerID).
		Where("question_id = ?", questionID).
		Scan(ctx)
	if err != nil {
		return domain.Answer{}, notFound(err, domain.ErrAnswerNotFound, "select answer")
	}
	return row.toDomain(), nil
}

func (s *SessionStore) ListAnswers(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	var rows []answerRow
	err := s.db.NewSelect().Model(&rows).
		Where("session_id = ?", sessionID).
		Where("question_id = ?", questionID).
		Order("submitted_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	answers := make([]domain.Answer, 0, len(rows))
	for _, row := range rows {
		answers = append(answers, row.toDomain())
	}
	return answers, nil
}

// AwardPoints marks the answer scored and credits its player in one transaction.
// The scored_at guard makes a retry a no-op.
func (s *SessionStore) AwardPoints(ctx context.Context, answerID string, points int) (domain.Player, error) {
	var player domain.Player
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var scored answerRow
		err := tx.NewUpdate().Model(&scored).
			Set("points_earned = ?", points).
			Set("scored_at = ?", s.now()).
			Where("id = ?", answerID).
			Where("scored_at IS NULL").
			Returning("session_id, player_id").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			// already scored, or no such answer
			var existing answerRow
			if err := tx.NewSelect().Model(&existing).Where("id = ?", answerID).Scan(ctx); err != nil {
				return notFound(err, domain.ErrAnswerNotFound, "select answer")
			}
			var row playerRow
			if err := tx.NewSelect().Model(&row).Where("id = ?", existing.PlayerID).Scan(ctx); err != nil {
				return notFound(err, domain.ErrPlayerNotFound, "select player")
			}
			player = row.toDomain()
			return nil
		}
		if err != nil {
			return fmt.Errorf("score answer: %w", err)
		}

		var row playerRow
		err = tx.NewUpdate().Model(&row).
			Set("score = score + ?", points).
			Where("id = ?", scored.PlayerID).
			Where("session_id = ?", scored.SessionID).
			Returning("*").
			Scan(ctx)
		if err != nil {
			return notFound(err, domain.ErrPlayerNotFound, "credit player")
		}
		player = row.toDomain()
		return nil
	})
	if err != nil {
		return domain.Player{}, err
	}
	return player, nil
}

func toSessionRow(session domain.Session) sessionRow {
	return sessionRow{
		ID:                   session.ID,
		Pin:                  session.Pin,
		QuizID:               session.QuizID,
		HostID:               session.HostID,
		Status:               string(session.Status),
		CurrentQuestionIndex: session.CurrentQuestionIndex,
		CreatedAt:            session.CreatedAt,
		StartedAt:            session.StartedAt,
		EndedAt:              session.EndedAt,
	}
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:                   r.ID,
		Pin:                  r.Pin,
		QuizID:               r.QuizID,
		HostID:               r.HostID,
		Status:               domain.SessionStatus(r.Status),
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		CreatedAt:            r.CreatedAt,
		StartedAt:            r.StartedAt,
		EndedAt:              r.EndedAt,
	}
}

func (r playerRow) toDomain() domain.Player {
	return domain.Player{
		ID:        r.ID,
		SessionID: r.SessionID,
		Nickname:  r.Nickname,
		AvatarURL: r.AvatarURL,
		Score:     r.Score,
		JoinedAt:  r.JoinedAt,
	}
}

func (r answerRow) toDomain() domain.Answer {
	return domain.Answer{
		ID:             r.ID,
		SessionID:      r.SessionID,
		PlayerID:       r.PlayerID,
		QuestionID:     r.QuestionID,
		QuestionIndex:  r.QuestionIndex,
		AnswerIndex:    r.AnswerIndex,
		Correct:        r.Correct,
		ElapsedSeconds: r.ElapsedSeconds,
		Points:         r.Points,
		SubmittedAt:    r.SubmittedAt,
		ScoredAt:       r.ScoredAt,
	}
}

func notFound(err, sentinel error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pgCode(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}
