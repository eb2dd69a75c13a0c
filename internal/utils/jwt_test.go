package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	uid := uuid.New()
	tok, err := SignJWT("s3cret", uid, RoleUser, time.Hour)
	require.NoError(t, err)

	_, claims, err := ParseJWT("s3cret", tok)
	require.NoError(t, err)
	assert.Equal(t, uid.String(), claims.UserID)
	assert.Equal(t, RoleUser, claims.Role)

	_, _, err = ParseJWT("other", tok)
	assert.Error(t, err)
}

func TestParseExpired(t *testing.T) {
	tok, err := SignJWT("s3cret", uuid.New(), RoleUser, -time.Minute)
	require.NoError(t, err)
	_, _, err = ParseJWT("s3cret", tok)
	assert.Error(t, err)

	_, _, err = ParseJWT("s3cret", "")
	assert.Error(t, err)
}
