package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	token, exp, err := Issue("admin", "admin", "facetrack", "secret", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := Parse(token, "secret", "facetrack")
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
}

func TestParseRejectsWrongKey(t *testing.T) {
	token, _, err := Issue("admin", "admin", "facetrack", "secret", time.Hour)
	require.NoError(t, err)

	_, err = Parse(token, "other", "facetrack")
	assert.Error(t, err)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token, _, err := Issue("admin", "admin", "someone-else", "secret", time.Hour)
	require.NoError(t, err)

	_, err = Parse(token, "secret", "facetrack")
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token, _, err := Issue("admin", "admin", "facetrack", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = Parse(token, "secret", "facetrack")
	assert.Error(t, err)
}
