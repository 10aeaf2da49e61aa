package integration

import (
	"context"
	"database/sql"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/client"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	infraredis "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/player"
	transport "live-quiz-service/internal/transport/http"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestGameEndToEnd plays a two-question game with sessions in Postgres, the
// bus, join codes and quiz cache in Redis, one local and one remote player.
func TestGameEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := migrated(t, ctx, pgURL)
	defer db.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	loader := postgres.NewQuizLoader(pool)
	if err := loader.SaveQuiz(ctx, sampleQuiz()); err != nil {
		t.Fatalf("save quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	logger, _ := test.NewNullLogger()
	store := postgres.NewSessionStore(db)
	pins := infraredis.NewPinRegistry(redisClient, time.Hour)
	clock := &stepClock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
	service := app.NewGameService(
		store,
		infraredis.NewQuizRepository(redisClient, loader, 5*time.Minute, logger),
		pins,
		infraredis.NewBus(redisClient, logger),
		logger,
		// the wall clock never ticks; stepClock decides elapsed time
		app.Options{TickInterval: time.Hour, Now: clock.Now},
	)
	defer service.Close()

	server := httptest.NewServer(transport.NewRouter(service, auth.NewIssuer("integration", time.Hour), nil, logger, nil))
	defer server.Close()

	session, err := service.CreateSession(ctx, "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if n, err := redisClient.Exists(ctx, "quiz:quiz-1:content").Result(); err != nil || n != 1 {
		t.Fatalf("expected quiz cached in redis, got %d (%v)", n, err)
	}

	// Alice plays in process.
	alice, err := service.Join(ctx, session.Pin, "Alice", "")
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	local, err := player.NewLocal(ctx, service, session.ID, alice.ID)
	if err != nil {
		t.Fatalf("local feed: %v", err)
	}
	defer local.Close()
	aliceView := player.NewView(alice.ID, local, logger)

	// Bob plays over the websocket.
	joined, err := client.Join(ctx, nil, server.URL, session.Pin, "Bob", "")
	if err != nil {
		t.Fatalf("join bob: %v", err)
	}
	remote, err := client.New(server.URL, joined.Token, logger)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer remote.Close()
	bobView := player.NewView(joined.Player.ID, remote, logger)

	followCtx, stopFollowing := context.WithCancel(ctx)
	defer stopFollowing()
	go func() { _ = aliceView.Follow(followCtx, local) }()
	go func() { _ = bobView.Follow(followCtx, remote) }()

	waitFor(t, "both players present", func() bool {
		return service.Present(session.ID, alice.ID) && service.Present(session.ID, joined.Player.ID)
	})

	if err := service.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "question 1 on both screens", func() bool {
		return aliceView.Stage() == player.StageAnswering && bobView.Stage() == player.StageAnswering
	})

	if ok, err := bobView.Submit(ctx, 1); err != nil || !ok {
		t.Fatalf("bob submit: ok=%v err=%v", ok, err)
	}
	clock.Advance(2 * time.Hour)
	if ok, err := aliceView.Submit(ctx, 1); err != nil || !ok {
		t.Fatalf("alice submit: ok=%v err=%v", ok, err)
	}

	// the unique index refuses a second row even past the service
	dup := &domain.Answer{ID: "dup", SessionID: session.ID, PlayerID: alice.ID, QuestionID: "q1", AnswerIndex: 0, SubmittedAt: clock.Now()}
	if err := store.InsertAnswer(ctx, dup); err != domain.ErrDuplicateSubmission {
		t.Fatalf("expected duplicate submission, got %v", err)
	}

	if err := service.Advance(ctx, session.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	waitFor(t, "scores on both screens", func() bool {
		return bobView.State().Score == 1000 && aliceView.State().Score == 980
	})

	board, err := service.Leaderboard(ctx, session.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 || board[0].Nickname != "Bob" || board[0].Score != 1000 || board[1].Score != 980 {
		t.Fatalf("unexpected leaderboard %+v", board)
	}

	if err := service.Next(ctx, session.ID); err != nil {
		t.Fatalf("next: %v", err)
	}
	waitFor(t, "question 2", func() bool { return bobView.State().QuestionIndex == 1 })
	if err := service.Advance(ctx, session.ID); err != nil {
		t.Fatalf("advance q2: %v", err)
	}
	if err := service.Next(ctx, session.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	waitFor(t, "game over on both screens", func() bool {
		return aliceView.Stage() == player.StageFinished && bobView.Stage() == player.StageFinished
	})

	stored, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != domain.StatusFinished || stored.EndedAt == nil {
		t.Fatalf("expected finished session with end time, got %+v", stored)
	}
	waitFor(t, "join code released", func() bool {
		ok, err := pins.Reserve(ctx, session.Pin, "next-session")
		return err == nil && ok
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrated(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:       "quiz-1",
		Title:    "Arithmetic",
		Settings: domain.QuizSettings{MaxPlayers: 10},
		Questions: []domain.Question{
			{ID: "q1", QuizID: "quiz-1", Text: "What is 2 + 2?", Answers: []string{"3", "4", "5"}, CorrectIndex: 1, TimeLimit: 20},
			{ID: "q2", QuizID: "quiz-1", Text: "What is 3 * 3?", Answers: []string{"6", "9"}, CorrectIndex: 1, TimeLimit: 10, OrderIndex: 1},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
