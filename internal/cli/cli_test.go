package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	redisinfra "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/player"
)

func TestOpenBackendsDefaultsToMemory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	b, err := openBackends(context.Background(), config.Config{}, logger)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &memory.SessionStore{}, b.store)
	assert.IsType(t, &memory.QuizRepository{}, b.quizzes)
	assert.IsType(t, &memory.PinRegistry{}, b.pins)
	assert.IsType(t, &memory.Bus{}, b.bus)
	assert.Nil(t, b.limiter)

	quiz, err := b.quizzes.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	require.NoError(t, quiz.Validate())
}

func TestOpenBackendsWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, _ := test.NewNullLogger()
	cfg := config.Config{}
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Limits.JoinPerMinute = 5

	b, err := openBackends(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &redisinfra.QuizRepository{}, b.quizzes)
	assert.IsType(t, &redisinfra.PinRegistry{}, b.pins)
	assert.IsType(t, &redisinfra.Bus{}, b.bus)
	assert.IsType(t, &redisinfra.Limiter{}, b.limiter)
	// sessions stay in memory without Postgres
	assert.IsType(t, &memory.SessionStore{}, b.store)
}

func TestOpenBackendsFailsOnUnreachableRedis(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := config.Config{}
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := openBackends(context.Background(), cfg, logger)
	assert.Error(t, err)
}

func TestRendererRedrawsOnlyOnChange(t *testing.T) {
	var out bytes.Buffer
	r := &renderer{out: &out}
	question := &domain.PublicQuestion{Text: "What is 2 + 2?", Answers: []string{"3", "4"}, TimeLimit: 20}

	r.render(player.State{Stage: player.StageAnswering, QuestionIndex: 0, TimeRemaining: 20, Question: question})
	r.render(player.State{Stage: player.StageAnswering, QuestionIndex: 0, TimeRemaining: 19, Question: question})
	assert.Equal(t, 1, strings.Count(out.String(), "What is 2 + 2?"))
	assert.Contains(t, out.String(), "2) 4")

	r.render(player.State{Stage: player.StageFinished, Score: 950, Players: []domain.LeaderboardEntry{{Nickname: "Alice", Score: 950}}})
	assert.Contains(t, out.String(), "Game over!")
	assert.Contains(t, out.String(), "Your score: 950")
}

func TestRendererShowsResultOnceScored(t *testing.T) {
	var out bytes.Buffer
	r := &renderer{out: &out}
	question := &domain.PublicQuestion{Text: "What is 2 + 2?", Answers: []string{"3", "4"}, TimeLimit: 20, CorrectIndex: domain.IntPtr(1)}

	r.render(player.State{Stage: player.StageViewingResults, Question: question})
	assert.Contains(t, out.String(), "Correct answer: 4")
	assert.NotContains(t, out.String(), "Wrong answer.")

	// a wrong answer scores nothing, yet the outcome still redraws
	r.render(player.State{Stage: player.StageViewingResults, Question: question, Result: &domain.AnswerResult{}})
	assert.Contains(t, out.String(), "Wrong answer.")
}

func TestRootCommandWiresSubcommands(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"start", "migrate", "play"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}
