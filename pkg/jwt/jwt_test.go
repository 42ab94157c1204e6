package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc, err := NewService("secret", time.Hour)
	require.NoError(t, err)

	token, err := svc.GenerateToken("ops@example.com", RoleOperator)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Subject)
	assert.True(t, claims.HasRole(RoleOperator))
	assert.False(t, claims.HasRole(RoleViewer))
}

func TestExpiredAndForeignTokens(t *testing.T) {
	svc, err := NewService("secret", time.Minute)
	require.NoError(t, err)
	token, err := svc.GenerateToken("ops", RoleOperator)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other, err := NewService("other-secret", time.Minute)
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = other.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := NewService("", time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)
}
