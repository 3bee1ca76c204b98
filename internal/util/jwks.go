package util

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
)

// JWKS is a JSON Web Key Set as served by an identity provider.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

func decodeCoord(field, v string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	return new(big.Int).SetBytes(b), nil
}

// PublicKeyPEM converts an EC (P-256/P-384) or RSA key into the PEM form
// ValidateJWT takes as key material.
func (k JWK) PublicKeyPEM() (string, error) {
	var pub any
	switch k.Kty {
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		default:
			return "", fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := decodeCoord("x", k.X)
		if err != nil {
			return "", err
		}
		y, err := decodeCoord("y", k.Y)
		if err != nil {
			return "", err
		}
		pub = &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	case "RSA":
		n, err := decodeCoord("n", k.N)
		if err != nil {
			return "", err
		}
		e, err := decodeCoord("e", k.E)
		if err != nil {
			return "", err
		}
		pub = &rsa.PublicKey{N: n, E: int(e.Int64())}
	default:
		return "", fmt.Errorf("unsupported key type %q", k.Kty)
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
