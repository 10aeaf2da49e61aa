package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
)

// Limiter throttles requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

const claimsKey = "claims"

// NewRouter wires the REST API, the websocket endpoint and ops routes.
func NewRouter(service *app.GameService, tokens *auth.Issuer, limiter Limiter, log logrus.FieldLogger, allowOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log), metrics.Middleware())
	r.Use(cors.New(corsConfig(allowOrigins)))

	api := NewAPIHandler(service, tokens, log)
	ws := NewWSHandler(service, tokens, log, allowOrigins)

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", gin.WrapF(ws.ServeWS))

	v1 := r.Group("/api/v1")
	v1.POST("/sessions", api.CreateSession)
	v1.POST("/join", rateLimit(limiter, log), api.Join)

	session := v1.Group("/sessions/:id", requireToken(tokens))
	session.GET("/state", api.State)
	session.GET("/leaderboard", api.Leaderboard)
	session.POST("/leave", api.Leave)

	host := session.Group("", requireHost())
	host.POST("/start", api.Transition(service.Start))
	host.POST("/advance", api.Transition(service.Advance))
	host.POST("/next", api.Transition(service.Next))
	host.POST("/end", api.Transition(service.End))
	return r
}

func corsConfig(allowOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowOrigins) == 0 || (len(allowOrigins) == 1 && allowOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowOrigins
	}
	return cfg
}

// requestLogger logs every request once it completes.
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
			"remote":   c.ClientIP(),
		}).Info("HTTP request")
	}
}

// rateLimit fails open when the limiter itself errors.
func rateLimit(limiter Limiter, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ok, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.WithError(err).Warn("rate limiter unavailable")
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Code: codeRateLimited, Error: "too many requests"})
			return
		}
		c.Next()
	}
}

// requireToken accepts a bearer header or ?token= and pins the token to the :id session.
func requireToken(tokens *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.Request)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: domain.CodeUnauthorized, Error: "token required"})
			return
		}
		claims, err := tokens.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: domain.CodeUnauthorized, Error: "invalid or expired token"})
			return
		}
		if claims.SessionID != c.Param("id") {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Code: domain.CodeForbidden, Error: "token is for another session"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func requireHost() gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims := claimsFrom(c); claims == nil || claims.Role != auth.RoleHost {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Code: domain.CodeForbidden, Error: "host token required"})
			return
		}
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
