package domain

import (
	"encoding/json"
	"fmt"
)

// EventType names a realtime message.
type EventType string

// Bus events, fanned out to every subscriber of a session.
const (
	EventPlayerJoined        EventType = "player-joined"
	EventPlayerLeft          EventType = "player-left"
	EventTimerTick           EventType = "timer-tick"
	EventPhaseChanged        EventType = "phase-changed"
	EventLeaderboardSnapshot EventType = "leaderboard-snapshot"
	// Store change notifications.
	EventAnswerRecorded EventType = "answer-recorded"
	EventScoreUpdated   EventType = "score-updated"
)

// Connection-scoped messages exchanged on a single websocket.
const (
	EventSync           EventType = "sync"
	EventAnswer         EventType = "answer"
	EventAnswerAccepted EventType = "answer-accepted"
	EventAnswerRejected EventType = "answer-rejected"
	EventError          EventType = "error"
)

// Event is the wire envelope: {"event": <type>, "payload": <shape>}.
// Seq orders a session's events; it is zero for connection-scoped messages
// and for events published while no host is live.
type Event struct {
	Type    EventType       `json:"event"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an envelope.
func NewEvent(t EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

type PlayerJoinedPayload struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Score     int    `json:"score"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type PlayerLeftPayload struct {
	ID string `json:"id"`
}

// TimerTickPayload carries the host's remaining seconds. The question index lets
// receivers drop ticks that belong to a question they already moved past.
type TimerTickPayload struct {
	TimeRemaining        int  `json:"timeRemaining"`
	CurrentQuestionIndex *int `json:"currentQuestionIndex,omitempty"`
}

// PhaseChangedPayload announces a transition. CorrectIndex is only set when a
// question closes.
type PhaseChangedPayload struct {
	Phase                Phase `json:"phase"`
	CurrentQuestionIndex *int  `json:"currentQuestionIndex,omitempty"`
	CorrectIndex         *int  `json:"correctIndex,omitempty"`
}

type LeaderboardPayload struct {
	Players []LeaderboardEntry `json:"players"`
}

type AnswerRecordedPayload struct {
	PlayerID      string `json:"playerId"`
	QuestionIndex int    `json:"questionIndex"`
}

// ScoreUpdatedPayload is published once per scored answer at the results transition.
type ScoreUpdatedPayload struct {
	PlayerID      string `json:"playerId"`
	QuestionIndex int    `json:"questionIndex"`
	Correct       bool   `json:"correct"`
	Awarded       int    `json:"awarded"`
	Score         int    `json:"score"`
}

// AnswerPayload is sent by a player to submit an answer.
type AnswerPayload struct {
	QuestionIndex int `json:"questionIndex"`
	AnswerIndex   int `json:"answerIndex"`
}

// RejectionPayload explains a refused request.
type RejectionPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IntPtr is a helper for optional indexes in payloads.
func IntPtr(v int) *int {
	return &v
}
