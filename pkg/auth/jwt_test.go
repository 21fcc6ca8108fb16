package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret", "medication-api", time.Hour)
	userID := uuid.New()

	token, err := svc.GenerateToken(userID)
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	userID := uuid.New()

	other, err := NewJWTService("other-secret", "medication-api", time.Hour).GenerateToken(userID)
	require.NoError(t, err)
	_, err = NewJWTService("secret", "medication-api", time.Hour).ValidateToken(other)
	assert.Error(t, err)

	wrongIssuer, err := NewJWTService("secret", "someone-else", time.Hour).GenerateToken(userID)
	require.NoError(t, err)
	_, err = NewJWTService("secret", "medication-api", time.Hour).ValidateToken(wrongIssuer)
	assert.Error(t, err)

	_, err = NewJWTService("secret", "", time.Hour).ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := NewJWTService("secret", "", time.Minute).(*jwtService)
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := svc.GenerateToken(uuid.New())
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}
