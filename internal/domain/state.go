package domain

// Phase is the current stage of a session's game loop.
type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseQuestion Phase = "question"
	PhaseResults  Phase = "results"
	PhaseFinished Phase = "finished"
)

// GameState is the ephemeral, broadcast-derived projection every participant holds.
type GameState struct {
	Phase                Phase `json:"phase"`
	CurrentQuestionIndex int   `json:"currentQuestionIndex"`
	TimeRemaining        int   `json:"timeRemaining"`
}

// Snapshot is the authoritative resync a participant receives on every (re)subscription.
type Snapshot struct {
	SessionID string        `json:"sessionId"`
	Pin       string        `json:"pin"`
	Status    SessionStatus `json:"status"`
	GameState
	Players   []LeaderboardEntry `json:"players"`
	Questions []PublicQuestion   `json:"questions"`
	// Submitted reports whether the requesting player already answered the current question.
	Submitted bool `json:"submitted"`
	// Result is the requesting player's scored answer once the current question closed.
	Result *AnswerResult `json:"result,omitempty"`
	// Seq is the last event folded into this snapshot. Events at or below it
	// are already reflected.
	Seq uint64 `json:"seq"`
}

// AnswerResult is one player's outcome for a closed question.
type AnswerResult struct {
	Correct bool `json:"correct"`
	Awarded int  `json:"awarded"`
}

// RevealedThrough is how many leading questions are closed in a phase, and so
// may show their correct answer.
func RevealedThrough(phase Phase, questionIndex, questionCount int) int {
	switch phase {
	case PhaseQuestion:
		return questionIndex
	case PhaseResults:
		return questionIndex + 1
	case PhaseFinished:
		return questionCount
	default:
		return 0
	}
}

// PhaseForStatus derives a phase from the persisted status when no live host can be asked.
func PhaseForStatus(status SessionStatus) Phase {
	switch status {
	case StatusPlaying:
		return PhaseResults
	case StatusFinished:
		return PhaseFinished
	default:
		return PhaseLobby
	}
}
