package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"time"

	"device-lock-control-plane/internal/token"
)

// NewTestTokenProvider returns an owner access token provider backed by a fresh
// ES256 key pair. For tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	keys, err := token.NewAsymmetricKeys(priv, nil)
	if err != nil {
		return nil, err
	}
	return NewTokenProvider(keys, "test-issuer", "test-owner-api", 15*time.Minute), nil
}

// testKeyPEM returns a fresh P-256 key pair as PKCS#8 and PKIX PEM strings.
func testKeyPEM() (privPEM, pubPEM string, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", err
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return "", "", err
	}
	privPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	pubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return privPEM, pubPEM, nil
}
