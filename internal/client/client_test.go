package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/client"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/player"
	transporthttp "live-quiz-service/internal/transport/http"
)

func newService(t *testing.T) (*app.GameService, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	quiz := domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{ID: "q1", Text: "2 + 2", Answers: []string{"3", "4"}, CorrectIndex: 1, TimeLimit: 20},
			{ID: "q2", Text: "3 * 3", Answers: []string{"6", "9"}, CorrectIndex: 1, TimeLimit: 10},
		},
	}
	svc := app.NewGameService(
		memory.NewSessionStore(),
		memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{quiz.ID: quiz}), time.Minute),
		memory.NewPinRegistry(),
		memory.NewBus(),
		logger,
		app.Options{TickInterval: time.Hour, Now: func() time.Time { return time.Unix(1732269600, 0) }},
	)
	t.Cleanup(svc.Close)
	return svc, transporthttp.NewRouter(svc, auth.NewIssuer("test-secret", time.Hour), nil, logger, nil)
}

func newClient(t *testing.T, baseURL, token string) *client.Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cl, err := client.New(baseURL, token, logger)
	require.NoError(t, err)
	cl.MinBackoff = 10 * time.Millisecond
	cl.MaxBackoff = 50 * time.Millisecond
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestJoinMapsRejections(t *testing.T) {
	svc, router := newService(t)
	server := httptest.NewServer(router)
	defer server.Close()
	ctx := context.Background()

	_, err := client.Join(ctx, nil, server.URL, "000000", "Alice", "")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	session, err := svc.CreateSession(ctx, "quiz-1", "host-1")
	require.NoError(t, err)

	_, err = client.Join(ctx, nil, server.URL, session.Pin, "  ", "")
	assert.ErrorIs(t, err, domain.ErrInvalidNickname)

	joined, err := client.Join(ctx, nil, server.URL, session.Pin, "Alice", "https://example.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, session.ID, joined.SessionID)
	assert.Equal(t, "Alice", joined.Player.Nickname)
	assert.NotEmpty(t, joined.Token)

	require.NoError(t, svc.Start(ctx, session.ID))
	_, err = client.Join(ctx, nil, server.URL, session.Pin, "Bob", "")
	assert.ErrorIs(t, err, domain.ErrSessionAlreadyStarted)
}

func TestRemotePlayerGame(t *testing.T) {
	svc, router := newService(t)
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := svc.CreateSession(ctx, "quiz-1", "host-1")
	require.NoError(t, err)
	joined, err := client.Join(ctx, nil, server.URL, session.Pin, "Alice", "")
	require.NoError(t, err)

	cl := newClient(t, server.URL, joined.Token)
	logger, _ := test.NewNullLogger()
	view := player.NewView(joined.Player.ID, cl, logger)
	done := make(chan error, 1)
	go func() { done <- view.Follow(ctx, cl) }()

	waitStage := func(want player.Stage) {
		t.Helper()
		require.Eventually(t, func() bool { return view.Stage() == want }, 3*time.Second, 5*time.Millisecond, "stage %s", want)
	}

	waitStage(player.StageWaiting)
	require.Eventually(t, func() bool { return svc.Present(session.ID, joined.Player.ID) }, time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Start(ctx, session.ID))
	waitStage(player.StageAnswering)

	ok, err := view.Submit(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, player.StageSubmitted, view.Stage())

	// bypass the local gate: the server refuses the second answer
	_, err = cl.SubmitAnswer(ctx, 0, 0)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)

	require.NoError(t, svc.Advance(ctx, session.ID))
	waitStage(player.StageViewingResults)
	require.Eventually(t, func() bool { return view.State().Score == 1000 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.End(ctx, session.ID))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("follow did not return after the game finished")
	}
}

func TestClientRetriesFailedDial(t *testing.T) {
	svc, router := newService(t)
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" && attempts.Add(1) <= 2 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		router.ServeHTTP(w, r)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := svc.CreateSession(ctx, "quiz-1", "host-1")
	require.NoError(t, err)
	joined, err := client.Join(ctx, nil, server.URL, session.Pin, "Alice", "")
	require.NoError(t, err)

	cl := newClient(t, server.URL, joined.Token)
	event, err := cl.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSync, event.Type)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClientResyncsAfterDrop(t *testing.T) {
	svc, router := newService(t)
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" || attempts.Add(1) > 1 {
			router.ServeHTTP(w, r)
			return
		}
		// first connection: a stale lobby snapshot, then the line drops
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		stale, _ := domain.NewEvent(domain.EventSync, domain.Snapshot{GameState: domain.GameState{Phase: domain.PhaseLobby}})
		_ = wsjson.Write(r.Context(), conn, stale)
		_ = conn.Close(websocket.StatusGoingAway, "restarting")
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := svc.CreateSession(ctx, "quiz-1", "host-1")
	require.NoError(t, err)
	joined, err := client.Join(ctx, nil, server.URL, session.Pin, "Alice", "")
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, session.ID))

	cl := newClient(t, server.URL, joined.Token)
	first, err := cl.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.EventSync, first.Type)

	second, err := cl.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.EventSync, second.Type)
	var snapshot domain.Snapshot
	require.NoError(t, second.Decode(&snapshot))
	assert.Equal(t, domain.PhaseQuestion, snapshot.Phase, "fresh state after reconnect")
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClientStopsOnUnauthorized(t *testing.T) {
	_, router := newService(t)
	server := httptest.NewServer(router)
	defer server.Close()

	cl := newClient(t, server.URL, "not-a-token")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cl.Next(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))
}
