package backend

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-length-32b"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, 42, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "42", claims.Subject)
}

func TestParseToken_Rejects(t *testing.T) {
	token, err := IssueToken(testSecret, 42, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken("another-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken(testSecret, 42, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = ParseToken(testSecret, noUser)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenValid(t *testing.T) {
	token, err := IssueToken(testSecret, 7, time.Hour)
	require.NoError(t, err)

	assert.True(t, TokenValid(token, time.Now()))
	assert.False(t, TokenValid(token, time.Now().Add(2*time.Hour)))
	assert.False(t, TokenValid("not-a-jwt", time.Now()))

	claims, err := TokenClaims(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
}
