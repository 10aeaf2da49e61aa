package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.ErrSessionAlreadyStarted, http.StatusConflict},
		{domain.ErrSessionFull, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", domain.ErrInvalidTransition), http.StatusConflict},
		{domain.ErrDuplicateSubmission, http.StatusConflict},
		{domain.ErrNotAcceptingAnswers, http.StatusConflict},
		{domain.ErrInvalidNickname, http.StatusBadRequest},
		{domain.ErrInvalidAnswer, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestJoinErrors(t *testing.T) {
	server, _ := newTestServer(t, nil)
	created := createSession(t, server.URL)

	postJSON(t, server.URL+"/api/v1/join", "", map[string]string{"pin": "000000", "nickname": "Alice"}, http.StatusNotFound, nil)
	postJSON(t, server.URL+"/api/v1/join", "", map[string]string{"pin": created.Session.Pin}, http.StatusBadRequest, nil)
	postJSON(t, server.URL+"/api/v1/join", "", map[string]string{"pin": created.Session.Pin, "nickname": "   "}, http.StatusBadRequest, nil)

	joinSession(t, server.URL, created.Session.Pin, "Alice")
	hostPost(t, server.URL, created, "start", http.StatusOK)
	postJSON(t, server.URL+"/api/v1/join", "", map[string]string{"pin": created.Session.Pin, "nickname": "Bob"}, http.StatusConflict, nil)
}

func TestHostRoutesRequireHostToken(t *testing.T) {
	server, _ := newTestServer(t, nil)
	created := createSession(t, server.URL)
	joined := joinSession(t, server.URL, created.Session.Pin, "Alice")
	other := createSession(t, server.URL)

	startURL := server.URL + "/api/v1/sessions/" + created.Session.ID + "/start"
	postJSON(t, startURL, "", nil, http.StatusUnauthorized, nil)
	postJSON(t, startURL, "garbage", nil, http.StatusUnauthorized, nil)
	postJSON(t, startURL, joined.Token, nil, http.StatusForbidden, nil)
	postJSON(t, startURL, other.Token, nil, http.StatusForbidden, nil)

	hostPost(t, server.URL, created, "next", http.StatusConflict)
	hostPost(t, server.URL, created, "start", http.StatusOK)
	hostPost(t, server.URL, created, "start", http.StatusConflict)
	hostPost(t, server.URL, created, "end", http.StatusOK)
	hostPost(t, server.URL, created, "advance", http.StatusConflict)
}

func TestStateAndLeaderboard(t *testing.T) {
	server, _ := newTestServer(t, nil)
	created := createSession(t, server.URL)
	joined := joinSession(t, server.URL, created.Session.Pin, "Alice")

	var snapshot domain.Snapshot
	getJSON(t, server.URL+"/api/v1/sessions/"+created.Session.ID+"/state", joined.Token, http.StatusOK, &snapshot)
	assert.Equal(t, domain.PhaseLobby, snapshot.Phase)
	assert.Equal(t, created.Session.Pin, snapshot.Pin)
	require.Len(t, snapshot.Questions, 2)

	// questions sent to players never reveal the correct answer
	raw := map[string]any{}
	getJSON(t, server.URL+"/api/v1/sessions/"+created.Session.ID+"/state", joined.Token, http.StatusOK, &raw)
	question := raw["questions"].([]any)[0].(map[string]any)
	assert.NotContains(t, question, "correctIndex")

	var board LeaderboardResponse
	getJSON(t, server.URL+"/api/v1/sessions/"+created.Session.ID+"/leaderboard", created.Token, http.StatusOK, &board)
	require.Len(t, board.Players, 1)
	assert.Equal(t, "Alice", board.Players[0].Nickname)
}

func TestLeaveMarksPlayerAbsent(t *testing.T) {
	server, service := newTestServer(t, nil)
	created := createSession(t, server.URL)
	joined := joinSession(t, server.URL, created.Session.Pin, "Alice")
	leaveURL := server.URL + "/api/v1/sessions/" + created.Session.ID + "/leave"

	require.True(t, service.Present(created.Session.ID, joined.Player.ID))
	postJSON(t, leaveURL, created.Token, nil, http.StatusForbidden, nil)
	postJSON(t, leaveURL, joined.Token, nil, http.StatusNoContent, nil)
	assert.False(t, service.Present(created.Session.ID, joined.Player.ID))

	// nobody is left to play
	postJSON(t, server.URL+"/api/v1/sessions/"+created.Session.ID+"/start", created.Token, nil, http.StatusConflict, nil)
}

func TestJoinIsRateLimited(t *testing.T) {
	server, _ := newTestServer(t, memory.NewLimiter(2, time.Minute))
	created := createSession(t, server.URL)

	joinSession(t, server.URL, created.Session.Pin, "Alice")
	joinSession(t, server.URL, created.Session.Pin, "Bob")
	postJSON(t, server.URL+"/api/v1/join", "", map[string]string{"pin": created.Session.Pin, "nickname": "Carol"}, http.StatusTooManyRequests, nil)
}

func TestJoinFailsOpenWhenLimiterErrors(t *testing.T) {
	server, _ := newTestServer(t, failingLimiter{})
	created := createSession(t, server.URL)
	joinSession(t, server.URL, created.Session.Pin, "Alice")
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t, nil)
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func getJSON(t *testing.T, url, token string, wantStatus int, out any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}
