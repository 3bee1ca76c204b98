package util

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestValidateJWTHMAC(t *testing.T) {
	claims := Claims{
		Email: "ana@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	got, err := ValidateJWT(signed, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "ana@example.com", got.Email)

	_, err = ValidateJWT(signed, "other-secret")
	assert.Error(t, err)
}

func TestValidateJWTRejectsExpired(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ValidateJWT(signed, testSecret)
	assert.Error(t, err)
}

func TestUploadTokenRoundTrip(t *testing.T) {
	tok, err := SignUploadToken("upload-9", testSecret, time.Now())
	require.NoError(t, err)

	id, err := ParseUploadToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "upload-9", id)
}

func TestUploadTokenExpires(t *testing.T) {
	tok, err := SignUploadToken("upload-9", testSecret, time.Now().Add(-3*time.Hour))
	require.NoError(t, err)

	_, err = ParseUploadToken(tok, testSecret)
	assert.Error(t, err)
}
