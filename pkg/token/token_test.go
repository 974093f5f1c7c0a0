package token

import (
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KinLink/config"
	"KinLink/pkg/errors"
)

func initForTest(t *testing.T) {
	t.Helper()
	prev := config.Cfg
	config.Cfg.JWTSecret = "test-secret"
	config.Cfg.JWTExpireMinutes = 30
	config.Cfg.JWTRefreshDays = 7
	t.Cleanup(func() {
		config.Cfg = prev
		sharedGenerator = nil
	})
	require.NoError(t, Init())
}

func TestGenerateAndParse(t *testing.T) {
	initForTest(t)

	tok, expiresIn, err := GenerateAccessToken("1234567890123", 0)
	require.NoError(t, err)
	assert.Equal(t, 30*60, expiresIn)

	uid, err := ParseAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "1234567890123", uid)
}

func TestParseRejectsForeignSignature(t *testing.T) {
	initForTest(t)

	forged, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims{
		IdentityKey: "1",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = ParseAccessToken(forged)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	initForTest(t)

	expired, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims{
		IdentityKey: "1",
		"exp":       time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ParseAccessToken(expired)
	assert.Error(t, err)
}

func TestUserIDFromClaims(t *testing.T) {
	uid, err := UserIDFromClaims(map[string]interface{}{IdentityKey: float64(42)})
	require.NoError(t, err)
	assert.Equal(t, "42", uid)

	_, err = UserIDFromClaims(map[string]interface{}{})
	assert.ErrorIs(t, err, errors.ErrUserIDNotFound)
}

func TestGenerateWithoutInit(t *testing.T) {
	sharedGenerator = nil
	_, _, err := GenerateAccessToken("1", time.Minute)
	assert.ErrorIs(t, err, errors.ErrTokenGeneratorNotInitialized)
}
