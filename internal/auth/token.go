// Package auth issues and verifies the bearer tokens of hosts and players.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"live-quiz-service/internal/domain"
)

type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

const issuer = "live-quiz-service"

// Claims bind a token to one session, and for players to one player row.
type Claims struct {
	SessionID string `json:"sid"`
	PlayerID  string `json:"pid,omitempty"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) IssueHost(sessionID, hostID string) (string, error) {
	return i.issue(Claims{SessionID: sessionID, Role: RoleHost}, hostID)
}

func (i *Issuer) IssuePlayer(sessionID, playerID string) (string, error) {
	return i.issue(Claims{SessionID: sessionID, PlayerID: playerID, Role: RolePlayer}, playerID)
}

func (i *Issuer) issue(claims Claims, subject string) (string, error) {
	now := i.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token. Any failure is reported as domain.ErrUnauthorized.
func (i *Issuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrUnauthorized)
	}
	switch claims.Role {
	case RoleHost:
	case RolePlayer:
		if claims.PlayerID == "" {
			return nil, domain.ErrUnauthorized
		}
	default:
		return nil, domain.ErrUnauthorized
	}
	if claims.SessionID == "" {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}
