package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

// quizCache is a quiz repository whose entries can be dropped after the
// backing row changes.
type quizCache interface {
	app.QuizRepository
	Invalidate(ctx context.Context, quizID string) error
}

// backends are the stores the game runs on: Postgres and Redis when
// configured, in-memory otherwise.
type backends struct {
	store   app.SessionStore
	quizzes quizCache
	pins    app.PinRegistry
	bus     app.Bus
	limiter transport.Limiter

	redis  *redis.Client
	pool   *pgxpool.Pool
	db     *bun.DB
	loader *postgres.QuizLoader
}

func openBackends(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*backends, error) {
	b := &backends{}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	client, err := redisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.redis = client

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if cfg.Postgres.URL != "" {
		b.db = openBun(cfg.Postgres.URL)
		if err := migrateUp(ctx, b.db, log); err != nil {
			return nil, err
		}
		b.pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.loader = postgres.NewQuizLoader(b.pool)
		loader = b.loader
		b.store = postgres.NewSessionStore(b.db)
	} else {
		b.store = memory.NewSessionStore()
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	perMinute := int64(cfg.Limits.JoinPerMinute)
	if client != nil {
		b.quizzes = redisinfra.NewQuizRepository(client, loader, quizTTL, log)
		b.pins = redisinfra.NewPinRegistry(client, config.TTLDuration(cfg.Game.PinTTL, 6*time.Hour))
		b.bus = redisinfra.NewBus(client, log)
		if perMinute > 0 {
			b.limiter = redisinfra.NewLimiter(client, "join", perMinute, time.Minute)
		}
	} else {
		b.quizzes = memory.NewQuizRepository(loader, quizTTL)
		b.pins = memory.NewPinRegistry()
		b.bus = memory.NewBus()
		if perMinute > 0 {
			b.limiter = memory.NewLimiter(perMinute, time.Minute)
		}
	}

	log.WithFields(logrus.Fields{
		"redis":    client != nil,
		"postgres": cfg.Postgres.URL != "",
	}).Info("backends ready")
	ok = true
	return b, nil
}

// redisClient returns nil when Redis is not configured.
func redisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	var opts *redis.Options
	switch {
	case cfg.Redis.URL != "":
		parsed, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	case cfg.Redis.Addr != "":
		opts = &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	default:
		return nil, nil
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// seedSample stores the sample quiz so a fresh Postgres has something to play.
func (b *backends) seedSample(ctx context.Context) error {
	if b.loader == nil {
		return nil
	}
	for _, quiz := range sampleQuizzes() {
		if err := b.loader.SaveQuiz(ctx, quiz); err != nil {
			return fmt.Errorf("seed quiz %s: %w", quiz.ID, err)
		}
		if err := b.quizzes.Invalidate(ctx, quiz.ID); err != nil {
			return fmt.Errorf("invalidate quiz %s: %w", quiz.ID, err)
		}
	}
	return nil
}

func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

// sampleQuizzes is served when no Postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{ID: "q1", QuizID: "quiz-1", Text: "What is 2 + 2?", Answers: []string{"3", "4", "5"}, CorrectIndex: 1, TimeLimit: 20},
				{ID: "q2", QuizID: "quiz-1", Text: "Which planet is closest to the sun?", Answers: []string{"Venus", "Mercury", "Mars", "Earth"}, CorrectIndex: 1, TimeLimit: 15, OrderIndex: 1},
				{ID: "q3", QuizID: "quiz-1", Text: "How many sides does a hexagon have?", Answers: []string{"5", "6", "8"}, CorrectIndex: 1, TimeLimit: 10, OrderIndex: 2},
			},
		},
	}
}
