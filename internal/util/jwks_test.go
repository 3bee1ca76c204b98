package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWKPublicKeyPEMValidatesES256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	jwk := JWK{
		Kty: "EC",
		Crv: "P-256",
		Alg: "ES256",
		X:   base64.RawURLEncoding.EncodeToString(key.X.FillBytes(make([]byte, 32))),
		Y:   base64.RawURLEncoding.EncodeToString(key.Y.FillBytes(make([]byte, 32))),
	}
	pemKey, err := jwk.PublicKeyPEM()
	require.NoError(t, err)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString(key)
	require.NoError(t, err)

	claims, err := ValidateJWT(signed, pemKey)
	require.NoError(t, err)
	assert.Equal(t, "user-9", claims.Subject)
}

func TestJWKPublicKeyPEMRejectsUnknownType(t *testing.T) {
	_, err := JWK{Kty: "oct"}.PublicKeyPEM()
	assert.Error(t, err)

	_, err = JWK{Kty: "EC", Crv: "P-521"}.PublicKeyPEM()
	assert.Error(t, err)
}
