package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirk1998/login-gatekeeper/pkg/errors"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestIssueAndParse(t *testing.T) {
	ti := NewTokenIssuer(secret, time.Hour)
	now := time.Now()

	token, expiresAt, err := ti.Issue("alice", now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), expiresAt, time.Second)

	username, err := ti.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestParse_Expired(t *testing.T) {
	ti := NewTokenIssuer(secret, time.Hour)
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	token, _, err := ti.Issue("alice", issued)
	require.NoError(t, err)

	ti.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = ti.Parse(token)
	assert.ErrorIs(t, err, errors.ErrTokenExpired)
}

func TestParse_WrongSecret(t *testing.T) {
	token, _, err := NewTokenIssuer(secret, time.Hour).Issue("alice", time.Now())
	require.NoError(t, err)

	other := NewTokenIssuer([]byte("another-secret-another-secret-xx"), time.Hour)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, errors.ErrInvalidToken)
}

func TestParse_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = NewTokenIssuer(secret, time.Hour).Parse(signed)
	assert.ErrorIs(t, err, errors.ErrInvalidToken)
}

func TestParse_Garbage(t *testing.T) {
	_, err := NewTokenIssuer(secret, time.Hour).Parse("not-a-token")
	assert.ErrorIs(t, err, errors.ErrInvalidToken)
}
