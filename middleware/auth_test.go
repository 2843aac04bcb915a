package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	agentID := uuid.New().String()

	token, err := GenerateToken(agentID, "agent")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, agentID, claims.AgentID)
	assert.Equal(t, "agent", claims.Role)
	assert.Equal(t, "supportchat-server", claims.Issuer)
}

func TestValidateTokenGarbage(t *testing.T) {
	_, err := ValidateToken("не.настоящий.токен")
	assert.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	claims := &JWTClaims{
		AgentID: uuid.New().String(),
		Role:    "agent",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Issuer:    "supportchat-server",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtKey)
	require.NoError(t, err)

	_, err = ValidateToken(token)
	assert.Error(t, err, "просроченный токен должен отклоняться")
}

func TestValidateTokenTampered(t *testing.T) {
	token, err := GenerateToken(uuid.New().String(), "agent")
	require.NoError(t, err)

	// порча подписи
	_, err = ValidateToken(token[:len(token)-2] + "xx")
	assert.Error(t, err)
}
