package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session id or join code matches no live session.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrSessionAlreadyStarted rejects joins once the session left the lobby.
	ErrSessionAlreadyStarted = errors.New("game already started")
	// ErrSessionFull rejects joins beyond the quiz's player limit.
	ErrSessionFull = errors.New("game is full")
	// ErrSessionFinished is returned for any write against a finished session.
	ErrSessionFinished = errors.New("game already finished")
	ErrPlayerNotFound  = errors.New("player not found in game")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound   = errors.New("quiz not found")
	ErrInvalidQuiz    = errors.New("quiz is not playable")
	ErrAnswerNotFound = errors.New("answer not found")
	// ErrInvalidAnswer indicates an answer index outside the question's answers.
	ErrInvalidAnswer = errors.New("invalid answer index")
	// ErrDuplicateSubmission enforces one answer per player per question.
	ErrDuplicateSubmission = errors.New("answer already submitted for this question")
	// ErrNotAcceptingAnswers covers submissions outside the question phase or past the deadline.
	ErrNotAcceptingAnswers = errors.New("question is not accepting answers")
	ErrInvalidTransition   = errors.New("invalid phase transition")
	ErrNoPlayers           = errors.New("not enough connected players")
	ErrInvalidNickname     = errors.New("nickname must be 1-100 characters")
	ErrPinUnavailable      = errors.New("could not allocate a join code")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
)

// Rejection codes carried on the wire.
const (
	CodeNotFound          = "not-found"
	CodeAlreadyStarted    = "already-started"
	CodeFull              = "full"
	CodeFinished          = "finished"
	CodeDuplicate         = "duplicate-submission"
	CodeNotAccepting      = "not-accepting-answers"
	CodeInvalidAnswer     = "invalid-answer"
	CodeInvalidRequest    = "invalid-request"
	CodeInvalidTransition = "invalid-transition"
	CodeNoPlayers         = "no-players"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeInternal          = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrSessionNotFound, CodeNotFound},
	{ErrPlayerNotFound, CodeNotFound},
	{ErrQuizNotFound, CodeNotFound},
	{ErrAnswerNotFound, CodeNotFound},
	{ErrSessionAlreadyStarted, CodeAlreadyStarted},
	{ErrSessionFull, CodeFull},
	{ErrSessionFinished, CodeFinished},
	{ErrDuplicateSubmission, CodeDuplicate},
	{ErrNotAcceptingAnswers, CodeNotAccepting},
	{ErrInvalidAnswer, CodeInvalidAnswer},
	{ErrInvalidNickname, CodeInvalidRequest},
	{ErrInvalidQuiz, CodeInvalidRequest},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrNoPlayers, CodeNoPlayers},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrForbidden, CodeForbidden},
}

// Code maps an error to its wire rejection code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorFromCode maps a wire rejection code back to its sentinel, where one is unambiguous.
func ErrorFromCode(code string) error {
	switch code {
	case CodeDuplicate:
		return ErrDuplicateSubmission
	case CodeNotAccepting:
		return ErrNotAcceptingAnswers
	case CodeInvalidAnswer:
		return ErrInvalidAnswer
	case CodeAlreadyStarted:
		return ErrSessionAlreadyStarted
	case CodeFull:
		return ErrSessionFull
	case CodeFinished:
		return ErrSessionFinished
	case CodeNotFound:
		return ErrSessionNotFound
	case CodeUnauthorized:
		return ErrUnauthorized
	case CodeForbidden:
		return ErrForbidden
	}
	return nil
}
