// Package auth issues and verifies the bearer tokens callers present.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"medride/internal/domain"
)

// ErrInvalidToken is returned for a token that is malformed, expired or
// signed with another key.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims carried by a bearer token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens.
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenManager creates a new TokenManager.
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Generate returns a signed token for the actor and its expiry time.
func (m *TokenManager) Generate(actor domain.Actor) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)

	claims := Claims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate verifies a token and returns the actor it was issued to.
func (m *TokenManager) Validate(tokenString string) (domain.Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}

	role := domain.UserRole(claims.Role)
	switch role {
	case domain.RoleRider, domain.RoleDriver, domain.RoleAdmin:
	default:
		return domain.Actor{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{ID: claims.Subject, Role: role}, nil
}
