package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/domain"
)

type APIHandler struct {
	service *app.GameService
	tokens  *auth.Issuer
	log     logrus.FieldLogger
}

func NewAPIHandler(service *app.GameService, tokens *auth.Issuer, log logrus.FieldLogger) *APIHandler {
	return &APIHandler{service: service, tokens: tokens, log: log}
}

type CreateSessionRequest struct {
	QuizID string `json:"quizId" binding:"required"`
	HostID string `json:"hostId"`
}

type CreateSessionResponse struct {
	Session domain.Session `json:"session"`
	Token   string         `json:"token"`
}

type JoinRequest struct {
	Pin       string `json:"pin" binding:"required"`
	Nickname  string `json:"nickname" binding:"required"`
	AvatarURL string `json:"avatarUrl"`
}

type JoinResponse struct {
	SessionID string        `json:"sessionId"`
	Player    domain.Player `json:"player"`
	Token     string        `json:"token"`
}

type LeaderboardResponse struct {
	Players []domain.LeaderboardEntry `json:"players"`
}

func (h *APIHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.HostID == "" {
		req.HostID = uuid.NewString()
	}

	session, err := h.service.CreateSession(c.Request.Context(), req.QuizID, req.HostID)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	token, err := h.tokens.IssueHost(session.ID, req.HostID)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, CreateSessionResponse{Session: session, Token: token})
}

func (h *APIHandler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	player, err := h.service.Join(c.Request.Context(), req.Pin, req.Nickname, req.AvatarURL)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	token, err := h.tokens.IssuePlayer(player.SessionID, player.ID)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, JoinResponse{SessionID: player.SessionID, Player: player, Token: token})
}

// Transition runs a host action and answers with the resulting snapshot.
func (h *APIHandler) Transition(action func(ctx context.Context, sessionID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		if err := action(c.Request.Context(), sessionID); err != nil {
			abortWithError(c, h.log, err)
			return
		}
		snapshot, err := h.service.Snapshot(c.Request.Context(), sessionID, "")
		if err != nil {
			abortWithError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

func (h *APIHandler) State(c *gin.Context) {
	snapshot, err := h.service.Snapshot(c.Request.Context(), c.Param("id"), claimsFrom(c).PlayerID)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Leave marks the calling player absent; the row and score persist.
func (h *APIHandler) Leave(c *gin.Context) {
	claims := claimsFrom(c)
	if claims.Role != auth.RolePlayer {
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Code: domain.CodeForbidden, Error: "only players can leave"})
		return
	}
	h.service.Leave(c.Request.Context(), c.Param("id"), claims.PlayerID)
	c.Status(http.StatusNoContent)
}

func (h *APIHandler) Leaderboard(c *gin.Context) {
	entries, err := h.service.Leaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, LeaderboardResponse{Players: entries})
}
