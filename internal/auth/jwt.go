// Package auth issues and validates the session tokens handed out after a
// successful login.
package auth

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/amirk1998/login-gatekeeper/pkg/errors"
)

const issuer = "login-gatekeeper"

// Claims identifies the account a session belongs to.
type Claims struct {
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	secret   []byte
	validity time.Duration
	now      func() time.Time
}

func NewTokenIssuer(secret []byte, validity time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, validity: validity, now: time.Now}
}

// Issue signs an HS256 token for username valid from now.
func (ti *TokenIssuer) Issue(username string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(ti.validity)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	tokenString, err := token.SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Parse validates tokenString and returns the username it was issued for.
func (ti *TokenIssuer) Parse(tokenString string) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if stderrors.Is(err, jwt.ErrTokenExpired) {
		return "", errors.ErrTokenExpired
	}
	if err != nil || !token.Valid {
		return "", errors.ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", errors.ErrInvalidToken
	}

	return claims.Subject, nil
}
