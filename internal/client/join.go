package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"live-quiz-service/internal/domain"
)

// JoinResult is what the server hands a new player.
type JoinResult struct {
	SessionID string        `json:"sessionId"`
	Player    domain.Player `json:"player"`
	Token     string        `json:"token"`
}

type joinRequest struct {
	Pin       string `json:"pin"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Join enters the lobby of the session behind pin. Rejections come back as
// the matching domain error, e.g. domain.ErrSessionAlreadyStarted.
func Join(ctx context.Context, httpClient *http.Client, baseURL, pin, nickname, avatarURL string) (JoinResult, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	body, err := json.Marshal(joinRequest{Pin: pin, Nickname: nickname, AvatarURL: avatarURL})
	if err != nil {
		return JoinResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+"/api/v1/join", bytes.NewReader(body))
	if err != nil {
		return JoinResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return JoinResult{}, fmt.Errorf("join: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var failure errorBody
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		if sentinel := domain.ErrorFromCode(failure.Code); sentinel != nil {
			return JoinResult{}, sentinel
		}
		if failure.Code == domain.CodeInvalidRequest {
			return JoinResult{}, fmt.Errorf("%s: %w", failure.Error, domain.ErrInvalidNickname)
		}
		return JoinResult{}, fmt.Errorf("join: status %d: %s", resp.StatusCode, failure.Error)
	}

	var result JoinResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return JoinResult{}, fmt.Errorf("decode join response: %w", err)
	}
	return result, nil
}
