package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"live-quiz-service/internal/domain"
)

const codeRateLimited = "rate-limited"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	switch domain.Code(err) {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeAlreadyStarted, domain.CodeFull, domain.CodeFinished,
		domain.CodeDuplicate, domain.CodeNotAccepting, domain.CodeInvalidTransition, domain.CodeNoPlayers:
		return http.StatusConflict
	case domain.CodeInvalidAnswer, domain.CodeInvalidRequest:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, log logrus.FieldLogger, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Code: domain.Code(err), Error: message})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: domain.CodeInvalidRequest, Error: err.Error()})
}
