package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"live-quiz-service/internal/domain"
)

// QuizLoader reads quiz content from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	quiz := domain.Quiz{ID: quizID}
	err := l.pool.QueryRow(ctx, `
		SELECT q.title, COALESCE(s.max_players, 0)
		FROM quizzes q
		LEFT JOIN quiz_settings s ON s.quiz_id = q.id
		WHERE q.id = $1`, quizID).Scan(&quiz.Title, &quiz.Settings.MaxPlayers)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, text, answers, correct_index, time_limit, order_index
		FROM questions
		WHERE quiz_id = $1
		ORDER BY order_index, id`, quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		question := domain.Question{QuizID: quizID}
		var rawAnswers []byte
		if err := rows.Scan(&question.ID, &question.Text, &rawAnswers, &question.CorrectIndex, &question.TimeLimit, &question.OrderIndex); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(rawAnswers, &question.Answers); err != nil {
			return domain.Quiz{}, fmt.Errorf("unmarshal answers of %s: %w", question.ID, err)
		}
		quiz.Questions = append(quiz.Questions, question)
	}
	if err := rows.Err(); err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	return quiz, nil
}

// SaveQuiz replaces a quiz with its questions and settings in one transaction.
func (l *QuizLoader) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	if err := quiz.Validate(); err != nil {
		return err
	}
	return l.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO quizzes (id, title) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title`, quiz.ID, quiz.Title); err != nil {
			return fmt.Errorf("upsert quiz: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO quiz_settings (quiz_id, max_players) VALUES ($1, $2)
			ON CONFLICT (quiz_id) DO UPDATE SET max_players = EXCLUDED.max_players`, quiz.ID, quiz.Settings.MaxPlayers); err != nil {
			return fmt.Errorf("upsert quiz settings: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE quiz_id = $1`, quiz.ID); err != nil {
			return fmt.Errorf("clear questions: %w", err)
		}

		batch := &pgx.Batch{}
		for i, question := range quiz.Questions {
			answers, err := json.Marshal(question.Answers)
			if err != nil {
				return err
			}
			batch.Queue(`
				INSERT INTO questions (id, quiz_id, text, answers, correct_index, time_limit, order_index)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				question.ID, quiz.ID, question.Text, string(answers), question.CorrectIndex, question.TimeLimit, i)
		}
		results := tx.SendBatch(ctx, batch)
		for range quiz.Questions {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("insert question: %w", err)
			}
		}
		return results.Close()
	})
}
