package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	keys, err := NewKeys("test-secret")
	require.NoError(t, err)

	token, err := keys.GenerateToken("user-1", []string{RoleUser, RoleAdmin})
	require.NoError(t, err)

	claims, err := keys.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.True(t, claims.HasRole(RoleUser))
	assert.True(t, claims.HasRole(RoleAdmin))
	assert.False(t, claims.HasRole(RoleRider))
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	keys, err := NewKeys("secret-a")
	require.NoError(t, err)
	other, err := NewKeys("secret-b")
	require.NoError(t, err)

	token, err := keys.GenerateToken("user-1", []string{RoleUser})
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	keys, err := NewKeys("test-secret")
	require.NoError(t, err)

	_, err = keys.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestNewKeysRequiresSecret(t *testing.T) {
	_, err := NewKeys("")
	assert.Error(t, err)
}
