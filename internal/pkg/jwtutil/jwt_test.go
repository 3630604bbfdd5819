package jwtutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("secret", time.Minute, 7, "ada")
	require.NoError(t, err)

	claims, err := ParseToken("secret", token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "ada", claims.Username)
}

func TestParseToken_Rejects(t *testing.T) {
	expired, err := GenerateToken("secret", -time.Minute, 7, "ada")
	require.NoError(t, err)
	other, err := GenerateToken("other", time.Minute, 7, "ada")
	require.NoError(t, err)
	anonymous, err := GenerateToken("secret", time.Minute, 0, "")
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":      expired,
		"wrong secret": other,
		"no user":      anonymous,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken("secret", tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
