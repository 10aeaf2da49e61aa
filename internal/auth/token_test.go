package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"live-quiz-service/internal/domain"
)

func TestIssueAndParse(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	hostToken, err := issuer.IssueHost("s1", "host-1")
	require.NoError(t, err)
	claims, err := issuer.Parse(hostToken)
	require.NoError(t, err)
	assert.Equal(t, RoleHost, claims.Role)
	assert.Equal(t, "s1", claims.SessionID)
	assert.Equal(t, "host-1", claims.Subject)

	playerToken, err := issuer.IssuePlayer("s1", "p1")
	require.NoError(t, err)
	claims, err = issuer.Parse(playerToken)
	require.NoError(t, err)
	assert.Equal(t, RolePlayer, claims.Role)
	assert.Equal(t, "p1", claims.PlayerID)
}

func TestParseRejects(t *testing.T) {
	issuer := NewIssuer("secret", time.Minute)
	token, err := issuer.IssuePlayer("s1", "p1")
	require.NoError(t, err)

	_, err = NewIssuer("other", time.Minute).Parse(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "wrong secret")

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "expired")

	_, err = issuer.Parse("not-a-token")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{SessionID: "s1", Role: RoleHost}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = NewIssuer("secret", time.Minute).Parse(none)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "unsigned")
}
