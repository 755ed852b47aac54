package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medride/internal/domain"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret", "medride-test", time.Hour)

	tests := []struct {
		name  string
		actor domain.Actor
	}{
		{name: "rider", actor: domain.Actor{ID: "rider-1", Role: domain.RoleRider}},
		{name: "driver", actor: domain.Actor{ID: "driver-1", Role: domain.RoleDriver}},
		{name: "admin", actor: domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, expiresAt, err := m.Generate(tt.actor)
			require.NoError(t, err)
			assert.NotEmpty(t, token)
			assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

			actor, err := m.Validate(token)
			require.NoError(t, err)
			assert.Equal(t, tt.actor, actor)
		})
	}
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	token, _, err := NewTokenManager("secret-a", "medride", time.Hour).Generate(domain.Actor{ID: "u1", Role: domain.RoleRider})
	require.NoError(t, err)

	_, err = NewTokenManager("secret-b", "medride", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_RejectsWrongIssuer(t *testing.T) {
	token, _, err := NewTokenManager("secret", "someone-else", time.Hour).Generate(domain.Actor{ID: "u1", Role: domain.RoleRider})
	require.NoError(t, err)

	_, err = NewTokenManager("secret", "medride", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	m := NewTokenManager("secret", "medride", -time.Minute)
	token, _, err := m.Generate(domain.Actor{ID: "u1", Role: domain.RoleRider})
	require.NoError(t, err)

	_, err = m.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_RejectsUnknownRole(t *testing.T) {
	claims := Claims{
		Role: "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "medride",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewTokenManager("secret", "medride", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_RejectsGarbage(t *testing.T) {
	_, err := NewTokenManager("secret", "medride", time.Hour).Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
